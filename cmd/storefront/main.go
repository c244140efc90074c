package main

import "github.com/vasiliy-maslov/storefront/internal/cli"

func main() {
	cli.Execute()
}
