package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Read and write the document log",
}

var docPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Write a new version of a document, projecting its goods lines",
	RunE:  runDocPut,
}

var docGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the latest version of a document",
	RunE:  runDocGet,
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the latest version of every document under a ctx prefix",
	RunE:  runDocList,
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Logically tombstone a document",
	RunE:  runDocDelete,
}

func init() {
	docCmd.AddCommand(docPutCmd, docGetCmd, docListCmd, docDeleteCmd)

	docPutCmd.Flags().String("ctx", "", "Slash-separated context path, e.g. store1/receive (required)")
	docPutCmd.Flags().String("id", "", "Existing document id; omit to create a new document")
	docPutCmd.Flags().String("date", "", "Operation date (YYYY-MM-DD or RFC3339); defaults to now")
	docPutCmd.Flags().String("body-file", "", "Path to the JSON body, or - for stdin (required)")
	_ = docPutCmd.MarkFlagRequired("ctx")
	_ = docPutCmd.MarkFlagRequired("body-file")

	docGetCmd.Flags().String("id", "", "Document id (required)")
	_ = docGetCmd.MarkFlagRequired("id")

	docListCmd.Flags().String("ctx", "", "Slash-separated context prefix; empty lists every document")

	docDeleteCmd.Flags().String("id", "", "Document id (required)")
	docDeleteCmd.Flags().String("date", "", "Operation date (YYYY-MM-DD or RFC3339); defaults to now")
	_ = docDeleteCmd.MarkFlagRequired("id")
}

func readBody(path string) (json.RawMessage, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func runDocPut(cmd *cobra.Command, args []string) error {
	ctxStr, _ := cmd.Flags().GetString("ctx")
	id, _ := cmd.Flags().GetString("id")
	dateStr, _ := cmd.Flags().GetString("date")
	bodyFile, _ := cmd.Flags().GetString("body-file")

	date := time.Now().UTC()
	if dateStr != "" {
		var err error
		date, err = parseDate(dateStr)
		if err != nil {
			return err
		}
	}
	body, err := readBody(bodyFile)
	if err != nil {
		return err
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	doc, mutations, err := eng.PutDocument(strings.Split(ctxStr, "/"), id, date, time.Now().UTC(), body)
	if err != nil {
		return err
	}
	fmt.Printf("id: %s\n", doc.ID)
	fmt.Printf("projected %d operation(s)\n", len(mutations))
	return nil
}

func runDocGet(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	doc, err := eng.GetDocument(id)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func runDocList(cmd *cobra.Command, args []string) error {
	ctxStr, _ := cmd.Flags().GetString("ctx")
	var ctx []string
	if ctxStr != "" {
		ctx = strings.Split(ctxStr, "/")
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	docs, err := eng.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		fmt.Printf("%s  date=%s  tombstone=%v\n", doc.ID, doc.Date.Format(time.RFC3339), doc.Tombstone)
	}
	return nil
}

func runDocDelete(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	dateStr, _ := cmd.Flags().GetString("date")

	date := time.Now().UTC()
	if dateStr != "" {
		var err error
		date, err = parseDate(dateStr)
		if err != nil {
			return err
		}
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	doc, mutations, err := eng.DeleteDocument(id, date)
	if err != nil {
		return err
	}
	fmt.Printf("tombstoned: %s\n", doc.ID)
	fmt.Printf("projected %d operation(s)\n", len(mutations))
	return nil
}
