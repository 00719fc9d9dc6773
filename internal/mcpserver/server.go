// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the metadata tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bep/genmeta"
	"github.com/bep/genmeta/internal/metaservice"
)

const parametersFormatURI = "genmeta://parameters-format"

// ParametersFormat describes the parameter text written by edit_metadata.
const ParametersFormat = `# Generation parameters

Prompt, negative prompt and settings are stored as one text block:

    <prompt>
    Negative prompt: <negative prompt>
    Steps: 20, Sampler: Euler a, CFG scale: 7, Seed: 42, Size: 512x512, Model: sd15

The "Negative prompt:" line is left out when there is no negative prompt and
the settings line is left out when there are no settings.

Settings are comma separated "key: value" pairs. Tokens without a colon are kept
as they are and reported under "Other".

LoRAs are referenced in the prompt as <lora:name:weight>.

PNG files store the block in a tEXt chunk with the keyword "parameters",
JPEG files in the EXIF UserComment. WEBP and safetensors files are read only.
`

// Server wraps the MCP server with the metadata tools.
type Server struct {
	mcp *server.MCPServer
	svc *metaservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *metaservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"genmeta",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_metadata",
		mcp.WithDescription("Read the generation metadata (prompt, negative prompt, settings, LoRAs, checkpoint) "+
			"of a PNG, JPEG, WEBP or safetensors file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the file")),
	), s.readMetadata)

	s.mcp.AddTool(mcp.NewTool("edit_metadata",
		mcp.WithDescription("Write new generation metadata to a copy of a PNG or JPEG file. "+
			"The copy is written next to the original with an _edited suffix; the original is never modified. "+
			"Fields that are not given are kept."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the PNG or JPEG file")),
		mcp.WithString("prompt", mcp.Description("New prompt")),
		mcp.WithString("negative", mcp.Description("New negative prompt")),
		mcp.WithString("parameters", mcp.Description("New settings line, e.g. \"Steps: 20, Sampler: Euler, CFG scale: 7\"")),
	), s.editMetadata)

	s.mcp.AddTool(mcp.NewTool("extract_loras",
		mcp.WithDescription("Extract the LoRA references from a prompt or parameter text."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Prompt or parameter text")),
	), s.extractLoRAs)

	s.mcp.AddTool(mcp.NewTool("lora_summary",
		mcp.WithDescription("Summarize the training metadata (base model, epochs, optimizer, datasets, tags) "+
			"of a LoRA safetensors file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the .safetensors file")),
	), s.loraSummary)

	s.mcp.AddResource(
		mcp.NewResource(parametersFormatURI, "Parameters Format",
			mcp.WithResourceDescription("Layout of the generation parameter text read and written by the tools."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readParametersFormat,
	)

	return s
}

// Listen serves the MCP protocol on in/out until ctx is cancelled or in is closed.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) readMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", path, err)), nil
	}
	return jsonResult(res)
}

func (s *Server) editMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := req.GetArguments()
	optional := func(name string) *string {
		if v, ok := args[name].(string); ok {
			return &v
		}
		return nil
	}
	edit := metaservice.EditRequest{
		Prompt:   optional("prompt"),
		Negative: optional("negative"),
		Settings: optional("parameters"),
	}

	outPath, err := s.svc.EditFile(path, "", edit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", path, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("written: %s", outPath)), nil
}

func (s *Server) extractLoRAs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	loras := genmeta.ExtractLoRAs(text)
	if loras == nil {
		loras = []string{}
	}
	return jsonResult(loras)
}

func (s *Server) loraSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", path, err)), nil
	}
	if res.Format != genmeta.SafeTensors {
		return mcp.NewToolResultError(fmt.Sprintf("%s: not a safetensors file", path)), nil
	}
	if res.Summary == nil {
		return mcp.NewToolResultText("no training metadata found"), nil
	}
	return jsonResult(res.Summary)
}

func (s *Server) readParametersFormat(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      parametersFormatURI,
			MIMEType: "text/markdown",
			Text:     ParametersFormat,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
