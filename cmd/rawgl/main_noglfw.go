//go:build !glfw

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "rawgl: built without GLFW support; rebuild with -tags glfw")
	os.Exit(1)
}
