// ./main.go
package main

import (
	"github.com/xkilldash9x/wayfarer-cli/cmd"
)

func main() {
	cmd.Execute()
}
