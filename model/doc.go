// Package model defines the provider-agnostic abstractions for interacting
// with language models inside MentorMesh.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate scripted test doubles (ScriptedModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so the reasoning node remains decoupled from vendor SDKs.
package model
