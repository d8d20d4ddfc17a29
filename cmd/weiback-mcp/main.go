// weiback-mcp exposes WeiBack's command surface as MCP tools over stdio,
// so an LLM-driven client can drive backups the same way a GUI would.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/weibackapp/weiback"
	"github.com/weibackapp/weiback/internal/config"
	"github.com/weibackapp/weiback/internal/remoteapi"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	auth := remoteapi.NewSessionFileAuth(cfg.SessionPath)
	remote := remoteapi.NewClient(auth.Current)

	engine, err := weiback.NewEngine(cfg, remote, auth, logger)
	if err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer engine.Close()

	server := mcp.NewServer(&mcp.Implementation{Name: "weiback", Version: "1.0.0"}, nil)
	registerTools(server, engine)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}
