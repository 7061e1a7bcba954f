package main

import (
	"github.com/ALU-Schumacher/AUDITOR-sub000/cmd/auditor/commands"
)

// version is overridden during the build with the go linker
var version = "dev"

func main() {
	commands.SetVersion(version)
	commands.Execute()
}
