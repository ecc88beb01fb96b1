// onectl drives the One queue device: queue management, one-shot
// transfers, and a long-running capture monitor.
package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-one/cmd/onectl/cli"
)

func main() {
	c := cli.CLI{Out: os.Stdout, In: os.Stdin}
	ctx := kong.Parse(&c, cli.KongOptions()...)
	ctx.FatalIfErrorf(ctx.Run(&c))
}
