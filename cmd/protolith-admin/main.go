// Package main is the entry point for the protolith admin CLI, a thin
// client binding for the Admin and Auth RPCs an operator would otherwise
// have to issue by hand.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/protolith-db/protolith/internal/buildinfo"
)

var (
	serverURL string
	user      string
	pass      string
	output    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "protolith-admin",
		Short: "Admin CLI for protolith",
		Long:  "A command-line tool for creating databases and collections in protolith and issuing login sessions.",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:5678", "protolith server URL")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "protolith", "username")
	rootCmd.PersistentFlags().StringVarP(&pass, "pass", "p", "protolith", "password")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table, json")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange username/password for a session token",
		RunE:  runLogin,
	}

	createDatabaseCmd := &cobra.Command{
		Use:   "create-database <name> <descriptor-file>",
		Short: "Create a database from a serialized FileDescriptorSet",
		Args:  cobra.ExactArgs(2),
		RunE:  runCreateDatabase,
	}

	listDatabasesCmd := &cobra.Command{
		Use:   "list-databases",
		Short: "List every registered database",
		RunE:  runListDatabases,
	}

	createCollectionCmd := &cobra.Command{
		Use:   "create-collection <database> <collection> <key-field>",
		Short: "Register a collection's primary key in an existing database",
		Args:  cobra.ExactArgs(3),
		RunE:  runCreateCollection,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("protolith-admin %s (commit: %s, built: %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		},
	}

	rootCmd.AddCommand(loginCmd, createDatabaseCmd, listDatabasesCmd, createCollectionCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func newClient() (*client, error) {
	c := &client{httpClient: &http.Client{Timeout: 30 * time.Second}, baseURL: strings.TrimSuffix(serverURL, "/")}
	token, err := c.login()
	if err != nil {
		return nil, err
	}
	c.token = token
	return c, nil
}

func (c *client) login() (string, error) {
	var resp struct {
		SessionToken string `json:"session_token"`
	}
	if err := c.rawRequest(http.MethodPost, "/auth/login", map[string]string{
		"username": user,
		"password": pass,
	}, "", &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return resp.SessionToken, nil
}

func (c *client) request(method, path string, body any, out any) error {
	return c.rawRequest(method, path, body, c.token, out)
}

func (c *client) rawRequest(method, path string, body any, token string, out any) error {
	url := c.baseURL + path

	var bodyReader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		bodyReader = strings.NewReader(string(raw))
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("protolith-user-agent", "protolith-admin/go/"+buildinfo.Version)
	if token != "" {
		req.Header.Set("protolith-session", token)
	}

	// #nosec G704 -- admin CLI tool; URL is from the user-provided --server flag
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, errBody.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runLogin(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(map[string]string{"session_token": c.token})
	}
	fmt.Println(c.token)
	return nil
}

func runCreateDatabase(cmd *cobra.Command, args []string) error {
	name, descriptorPath := args[0], args[1]
	raw, err := os.ReadFile(descriptorPath)
	if err != nil {
		return fmt.Errorf("reading descriptor file: %w", err)
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		Name string `json:"name"`
		Op   string `json:"op"`
	}
	if err := c.request(http.MethodPost, "/admin/databases", map[string]any{
		"name":                name,
		"file_descriptor_set": base64.StdEncoding.EncodeToString(raw),
	}, &resp); err != nil {
		return err
	}
	fmt.Printf("database %s: %s\n", resp.Name, resp.Op)
	return nil
}

func runListDatabases(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		Databases []struct {
			Name        string   `json:"name"`
			Path        string   `json:"path"`
			Collections []string `json:"collections"`
		} `json:"databases"`
	}
	if err := c.request(http.MethodGet, "/admin/databases", nil, &resp); err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Databases)
	}
	for _, db := range resp.Databases {
		fmt.Printf("%s\t%s\t%s\n", db.Name, db.Path, strings.Join(db.Collections, ","))
	}
	return nil
}

func runCreateCollection(cmd *cobra.Command, args []string) error {
	database, collection, key := args[0], args[1], args[2]

	c, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		Database string `json:"database"`
		Name     string `json:"name"`
		Op       string `json:"op"`
	}
	if err := c.request(http.MethodPost, "/admin/collections", map[string]string{
		"database":   database,
		"collection": collection,
		"key":        key,
	}, &resp); err != nil {
		return err
	}
	fmt.Printf("collection %s/%s: %s\n", resp.Database, resp.Name, resp.Op)
	return nil
}
