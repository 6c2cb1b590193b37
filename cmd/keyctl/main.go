package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "keyctl: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	} else if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	client, err := NewKeynodeClient(ctx, cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to connect to keynode at %s: %w", cfg.URL, err)
	}
	printBanner(os.Stdout, cfg.URL, client)

	operator := NewOperator(client, os.Stdout)

	restoreTerminal := saveTerminal()
	defer restoreTerminal()

	p := prompt.New(operator.Execute, operator.Complete, promptOptions(restoreTerminal)...)
	promptDone := make(chan struct{})
	go func() {
		p.Run()
		close(promptDone)
	}()

	select {
	case <-client.WaitCh():
		fmt.Println("Keynode client disconnected.")
	case <-operator.Wait():
	case <-promptDone:
	case <-ctx.Done():
	}
	fmt.Println("Exiting keyctl.")
	return nil
}

// printBanner shows where keyctl is connected and which key signs the answers.
func printBanner(out io.Writer, url string, kn keynode) {
	fmt.Fprintf(out, "Connected to %s\n", url)

	nodeKey, err := kn.NodeKey()
	if err != nil {
		fmt.Fprintf(out, "Node key unavailable: %s\n", err.Error())
		return
	}
	fmt.Fprintf(out, "Node key %s (%s, responses signed with %s)\n", nodeKey.Fingerprint, nodeKey.Algorithm, nodeKey.Digest)
}

// saveTerminal returns a func that puts stdin back the way go-prompt found it.
func saveTerminal() func() {
	fd := int(os.Stdin.Fd())
	state, _ := term.GetState(fd)

	return func() {
		if state != nil {
			_ = term.Restore(fd, state)
		}
		_ = exec.Command("stty", "sane").Run()
	}
}

func promptOptions(restoreTerminal func()) []prompt.Option {
	return []prompt.Option{
		prompt.OptionTitle("keyctl"),
		prompt.OptionPrefix("keynode> "),
		prompt.OptionPrefixTextColor(prompt.Cyan),
		prompt.OptionPreviewSuggestionTextColor(prompt.Cyan),

		prompt.OptionSuggestionTextColor(prompt.White),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionDescriptionTextColor(prompt.White),
		prompt.OptionDescriptionBGColor(prompt.DarkBlue),
		prompt.OptionSelectedSuggestionTextColor(prompt.Black),
		prompt.OptionSelectedSuggestionBGColor(prompt.Cyan),
		prompt.OptionSelectedDescriptionTextColor(prompt.Black),
		prompt.OptionSelectedDescriptionBGColor(prompt.Cyan),

		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlC,
			Fn: func(*prompt.Buffer) {
				fmt.Println("Exiting keyctl.")
				restoreTerminal()
				os.Exit(0)
			},
		}),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlD,
			Fn:  func(*prompt.Buffer) {},
		}),
	}
}
