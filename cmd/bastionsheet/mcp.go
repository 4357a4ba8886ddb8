package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/Corphon/BastionSheet/internal/app"
	"github.com/Corphon/BastionSheet/internal/chat"
	"github.com/Corphon/BastionSheet/internal/di"
	"github.com/Corphon/BastionSheet/internal/dice"
	"github.com/Corphon/BastionSheet/internal/mcp"
	"github.com/Corphon/BastionSheet/internal/services"
	"github.com/Corphon/BastionSheet/internal/utils"
)

func mcpCmd() *cobra.Command {
	var withHTTP bool
	var port string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "通过 stdio 提供 MCP 工具",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(withHTTP, port)
		},
	}
	cmd.Flags().BoolVar(&withHTTP, "http", false, "同时启动网页服务器，MCP 掷骰会出现在打开的角色表中")
	cmd.Flags().StringVar(&port, "port", "", "网页服务器端口，默认读取 PORT")
	return cmd
}

func runMCP(withHTTP bool, port string) error {
	// stdout 属于 MCP 协议
	log.SetOutput(os.Stderr)
	utils.GetLogger().SetOutput(os.Stderr)
	gin.DefaultWriter = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, container, err := bootstrap(ctx, port)
	if err != nil {
		return err
	}
	defer app.Shutdown(container)

	if withHTTP {
		router, manager, err := setupWeb(container)
		if err != nil {
			return err
		}
		defer manager.Stop()

		srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
		go func() {
			log.Printf("🌐 网页服务器启动在端口 %s", cfg.Port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("❌ 启动服务器失败: %v", err)
			}
		}()
		defer srv.Close()
	}

	docs, err := di.Resolve[*services.DocumentService](container, di.ServiceDocuments)
	if err != nil {
		return err
	}
	roller, err := di.Resolve[*dice.Roller](container, di.ServiceDice)
	if err != nil {
		return err
	}
	chatLog, err := di.Resolve[*chat.Log](container, di.ServiceChat)
	if err != nil {
		return err
	}

	log.Println("🔌 MCP 服务通过 stdio 运行")
	server := mcp.NewServer(docs, roller, chatLog, version)
	return server.Run(ctx, &sdk.StdioTransport{})
}
