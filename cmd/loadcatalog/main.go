package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/catalog"
	"github.com/medcode-agent/backend/internal/llm"
	"github.com/medcode-agent/backend/internal/vector/milvus"
	"github.com/medcode-agent/backend/pkg/config"
	appLogger "github.com/medcode-agent/backend/pkg/logger"
)

// loadcatalog ingests a reference catalog CSV into one collection, e.g.
//
//	loadcatalog -collection icd10cm -file icd10cm_2024.csv
func main() {
	collection := flag.String("collection", "", "target collection name")
	file := flag.String("file", "", "catalog CSV path")
	flag.Parse()

	if *collection == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	loader := catalog.NewLoader(milvusClient, llmClient)

	ctx := context.Background()
	if err := loader.EnsureCollections(ctx, []string{*collection}); err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	f, err := os.Open(*file)
	if err != nil {
		appLogger.Fatal("Failed to open catalog file", zap.Error(err))
	}
	defer f.Close()

	loaded, err := loader.LoadCSV(ctx, *collection, f)
	if err != nil {
		appLogger.Fatal("Catalog load failed",
			zap.Int("loaded", loaded),
			zap.Error(err),
		)
	}

	appLogger.Info("Catalog load complete",
		zap.String("collection", *collection),
		zap.Int("entries", loaded),
	)
}
