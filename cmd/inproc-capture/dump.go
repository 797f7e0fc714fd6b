// Copyright 2025 Nonvolatile Inc. d/b/a Confident Security

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"

	"github.com/openpcc/inproc/capture"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatYAML = "yaml"
)

type dumpFlags struct {
	format      string
	withHeaders bool
	withBody    bool
}

func newDumpCmd() *cobra.Command {
	var f dumpFlags

	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Print the exchanges in a capture",
		Example: `  # One line per exchange
  inproc-capture dump exchanges.inpcap

  # Everything, as YAML
  inproc-capture dump exchanges.inpcap --format yaml --headers --body`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.format, "format", "f", formatText, "Output format (text, yaml)")
	cmd.Flags().BoolVar(&f.withHeaders, "headers", false, "Include request and response headers")
	cmd.Flags().BoolVar(&f.withBody, "body", false, "Include request and response bodies")

	return cmd
}

// exchangeView is the printed form of an exchange.
type exchangeView struct {
	ID             string              `yaml:"id"`
	Method         string              `yaml:"method"`
	URL            string              `yaml:"url"`
	RequestHeader  map[string][]string `yaml:"request_header,omitempty"`
	RequestBody    string              `yaml:"request_body,omitempty"`
	Status         int                 `yaml:"status"`
	ResponseHeader map[string][]string `yaml:"response_header,omitempty"`
	ResponseBody   string              `yaml:"response_body,omitempty"`
}

func runDump(cmd *cobra.Command, path string, f dumpFlags) error {
	if f.format != formatText && f.format != formatYAML {
		return fmt.Errorf("unknown format %q", f.format)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer file.Close()

	r := capture.NewReader(file)
	var views []exchangeView
	for {
		ex, err := r.Next(cmd.Context())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read capture: %w", err)
		}
		views = append(views, newExchangeView(ex, f))
	}

	out := cmd.OutOrStdout()
	if f.format == formatYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		err = enc.Encode(views)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}

	for _, v := range views {
		writeText(out, v)
	}
	return nil
}

func newExchangeView(ex *capture.Exchange, f dumpFlags) exchangeView {
	v := exchangeView{
		ID:     ex.ID.String(),
		Method: ex.Request.Method,
		URL:    requestURL(ex.Request).String(),
		Status: ex.Response.StatusCode,
	}
	if f.withHeaders {
		v.RequestHeader = ex.Request.Header
		v.ResponseHeader = ex.Response.Header
	}
	if f.withBody {
		v.RequestBody = string(ex.RequestBody)
		v.ResponseBody = string(ex.ResponseBody)
	}
	return v
}

// requestURL returns the absolute URL of a decoded request, decoded requests
// only carry the request target in their URL.
func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" && u.Host != "" {
		u.Scheme = "http"
	}
	return &u
}

func writeText(w io.Writer, v exchangeView) {
	fmt.Fprintf(w, "%s %s %s -> %d %s\n", v.ID, v.Method, v.URL, v.Status, http.StatusText(v.Status))
	writeHeader(w, "> ", v.RequestHeader)
	if v.RequestBody != "" {
		fmt.Fprintf(w, "> \n%s\n", v.RequestBody)
	}
	writeHeader(w, "< ", v.ResponseHeader)
	if v.ResponseBody != "" {
		fmt.Fprintf(w, "< \n%s\n", v.ResponseBody)
	}
}

func writeHeader(w io.Writer, prefix string, h map[string][]string) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		for _, val := range h[name] {
			fmt.Fprintf(w, "%s%s: %s\n", prefix, name, val)
		}
	}
}
