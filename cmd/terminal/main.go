package main

import (
	"fmt"
	"os"

	"github.com/ariefcatur/go-restaurant-orders/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
