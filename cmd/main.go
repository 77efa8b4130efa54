package main

import (
	"github.com/uptop/cmd/uptop"
)

func main() {
	uptop.Execute()
}
