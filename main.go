package main

import (
	_ "time/tzdata" // business-hours overrides resolve IANA zones on hosts without zoneinfo

	"github.com/nextlevelbuilder/intentrouter/cmd"
)

func main() {
	cmd.Execute()
}
