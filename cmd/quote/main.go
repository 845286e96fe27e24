package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"basenames-agent-go/internal/common"
	"basenames-agent-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s name.base.eth [name.base.eth ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout for registry lookups")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	namingService, chainClient, err := common.InitializeNaming(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize naming service", zap.Error(err))
	}
	defer chainClient.Close()

	common.PrintHeader(os.Stdout, "BASE NAME QUOTES", common.DefaultWidth)

	failures := 0
	for i, raw := range flag.Args() {
		isLast := i == flag.NArg()-1
		quote, err := namingService.Check(ctx, raw)
		if err != nil {
			failures++
			fmt.Printf("%s %-30s: error: %v\n", common.BoxPrefix(isLast), raw, err)
			continue
		}

		availability := "taken"
		if quote.Available {
			availability = "available"
		}
		fmt.Printf("%s %-30s: %-10s %s ETH\n", common.BoxPrefix(isLast), quote.Name, availability, quote.Price)
	}

	common.PrintFooter(os.Stdout, fmt.Sprintf("%d names checked, %d failed", flag.NArg(), failures), common.DefaultWidth)

	if failures > 0 {
		os.Exit(1)
	}
}
