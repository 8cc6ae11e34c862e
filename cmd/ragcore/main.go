// Package main is the entry point for the RAG core engine service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/ragcore/internal/engine"
)

func main() {
	engine.NewApp().Run()
}
