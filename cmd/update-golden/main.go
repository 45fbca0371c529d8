package main

import (
	"fmt"
	"log"
	"os"

	"github.com/clems4ever/textclf/tokenizer"
)

func main() {
	// Paths are relative to the repository root
	inputFile := "tokenizer/testdata/example.html"
	outputFile := "tokenizer/testdata/example_golden.txt"

	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		log.Fatalf("Input file not found: %s. Please run this command from the repository root.", inputFile)
	}

	fmt.Printf("Reading %s...\n", inputFile)
	inputBytes, err := os.ReadFile(inputFile)
	if err != nil {
		log.Fatalf("Failed to read input file: %v", err)
	}

	fmt.Println("Extracting visible text...")
	text, err := tokenizer.StripHTML(string(inputBytes))
	if err != nil {
		log.Fatalf("Extraction failed: %v", err)
	}

	fmt.Printf("Writing to %s...\n", outputFile)
	if err := os.WriteFile(outputFile, []byte(text), 0644); err != nil {
		log.Fatalf("Failed to write output file: %v", err)
	}

	fmt.Println("Done. Golden file updated.")
}
