package main

import (
	"fmt"
	"os"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/phpast"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/debug_ast/main.go <php_file_path>")
		os.Exit(1)
	}

	path := os.Args[1]
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}

	parser, err := phpast.NewParser()
	if err != nil {
		fmt.Printf("Error creating parser: %v\n", err)
		os.Exit(1)
	}
	defer parser.Close()

	file, err := phpast.ParseFile(parser, path, content)
	if err != nil {
		fmt.Printf("Error parsing file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	fmt.Printf("File: %s\n", path)
	if file.Namespace != "" {
		fmt.Printf("Namespace: %s\n", file.Namespace)
	}
	for alias, target := range file.Uses {
		fmt.Printf("Use: %s => %s\n", alias, target)
	}
	fmt.Println()

	printNode(file, file.Root(), 0)
}

func printNode(file *phpast.File, node *tree_sitter.Node, depth int) {
	if node == nil {
		return
	}

	indent := strings.Repeat("  ", depth)
	text := ""
	if node.NamedChildCount() == 0 {
		text = file.Text(node)
	}
	fmt.Printf("%s%s [%d:%d] %s\n", indent, node.Kind(), phpast.Line(node), phpast.Column(node), text)

	for i := uint(0); i < node.NamedChildCount(); i++ {
		printNode(file, node.NamedChild(i), depth+1)
	}
}
