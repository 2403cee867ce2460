// The main package for the popup-crawler executable.
package main

import (
	"github.com/JakeFAU/popup-crawler/cmd"
)

func main() {
	cmd.Execute()
}
