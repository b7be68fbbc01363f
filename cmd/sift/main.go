package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/yairfalse/sift/internal/cli"
	"github.com/yairfalse/sift/internal/output"
	"github.com/yairfalse/sift/pkg/config"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", output.Colors.Error("Error:"), err)
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, s := range verrs.Suggestions() {
				fmt.Fprintf(os.Stderr, "  %s %s\n", output.Icons.Info, s)
			}
		}
		os.Exit(1)
	}
}
