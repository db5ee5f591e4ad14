package main

import (
	"github.com/kirillgpt-bot-go/internal/cli"
)

func main() {
	cli.Execute()
}
