package main

import (
	"github.com/sd8capricon/graph-rag/internal/bootstrap"
	"github.com/sd8capricon/graph-rag/internal/server"
	"github.com/sd8capricon/graph-rag/internal/util"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("server")

	server.Init()
}
