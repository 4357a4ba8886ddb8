package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Corphon/BastionSheet/internal/chat"
	"github.com/Corphon/BastionSheet/internal/dice"
	"github.com/Corphon/BastionSheet/internal/services"
)

// Server 通过 MCP 暴露角色表操作，与网页共享文档、掷骰和聊天记录
type Server struct {
	docs   *services.DocumentService
	roller *dice.Roller
	chat   *chat.Log
	mcp    *sdk.Server
}

func NewServer(docs *services.DocumentService, roller *dice.Roller, log *chat.Log, version string) *Server {
	s := &Server{
		docs:   docs,
		roller: roller,
		chat:   log,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "bastionsheet",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
