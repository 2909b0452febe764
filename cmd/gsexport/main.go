package main

import (
	"gsexport/cmd/gsexport/commands"
	"gsexport/lib/osutil"
)

func main() {
	ctx, cancel := osutil.SignalContext()
	defer cancel()
	commands.ExecuteContext(ctx)
}
