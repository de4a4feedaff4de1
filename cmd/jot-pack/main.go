package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jotlabs/jot-core/internal/actions"
	"github.com/jotlabs/jot-core/internal/packs"
)

var version = "0.1.0-dev"

func main() {
	var packPath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&packPath, "file", "pack.yaml", "Path to command pack manifest")

	var phrase string
	tryCmd := flag.NewFlagSet("try", flag.ExitOnError)
	tryCmd.StringVar(&packPath, "file", "pack.yaml", "Path to command pack manifest")
	tryCmd.StringVar(&phrase, "phrase", "", "Transcript to interpret with the pack loaded")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'try' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(packPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("pack valid")
	case "try":
		tryCmd.Parse(os.Args[2:])
		if err := runTry(packPath, phrase); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path string) error {
	m, err := packs.Load(path)
	if err != nil {
		return err
	}
	return packs.Validate(m)
}

// runTry interprets a phrase with the pack merged in and prints the action
// list, so pack authors can check what their phrases expand to.
func runTry(path, phrase string) error {
	m, err := packs.Load(path)
	if err != nil {
		return err
	}
	if err := packs.Validate(m); err != nil {
		return err
	}
	in := actions.NewInterpreter()
	packs.Apply(m, in)
	for _, action := range in.Interpret(phrase) {
		switch {
		case action.Text != "":
			fmt.Printf("%s %q\n", action.Type, action.Text)
		case action.Count > 0:
			fmt.Printf("%s x%d\n", action.Type, action.Count)
		default:
			fmt.Println(action.Type)
		}
	}
	return nil
}
