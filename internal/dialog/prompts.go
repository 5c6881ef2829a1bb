// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_dialog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	internal_callcontext "github.com/rapidaai/sav-voicebot/internal/callcontext"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// Prompts carries the operator-editable LLM instructions. The YAML file
// overrides the built-in French defaults field by field.
type Prompts struct {
	// System frames every conversational completion. Placeholders:
	// {client_name}, {box_model}, {history}.
	System string `yaml:"system"`

	// Summary asks for the two-sentence ticket summary. Placeholder:
	// {conversation}.
	Summary string `yaml:"summary"`
}

var defaultPrompts = Prompts{
	System: `Tu es Eko, l'assistant vocal du support technique de Wipple.
Tu parles uniquement en français, avec des phrases courtes et claires adaptées au téléphone.
Tu aides le client à diagnostiquer sa panne internet ou mobile, étape par étape.
Ne donne jamais plus d'une instruction à la fois. Ne mentionne jamais que tu es un modèle de langage.

Client: {client_name}
Équipement: {box_model}
Tickets non résolus: {history}`,

	Summary: `Résume cette conversation de support technique en deux phrases maximum, en français, pour un ticket:

{conversation}`,
}

// LoadPrompts reads the prompt file, falling back to defaults for any
// missing field. A missing file is fine; a malformed one is not.
func LoadPrompts(logger commons.Logger, path string) (Prompts, error) {
	prompts := defaultPrompts

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infof("prompt file %s not found, using built-in prompts", path)
			return prompts, nil
		}
		return prompts, fmt.Errorf("dialog: read prompts %s: %w", path, err)
	}

	var loaded Prompts
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return prompts, fmt.Errorf("dialog: parse prompts %s: %w", path, err)
	}
	if loaded.System != "" {
		prompts.System = loaded.System
	}
	if loaded.Summary != "" {
		prompts.Summary = loaded.Summary
	}
	return prompts, nil
}

// SystemFor renders the system prompt for the current caller.
func (p Prompts) SystemFor(name, boxModel string, pending []internal_callcontext.Ticket) string {
	if name == "" {
		name = "inconnu"
	}
	if boxModel == "" {
		boxModel = "non renseigné"
	}
	history := "aucun"
	if len(pending) > 0 {
		var lines []string
		for _, t := range pending {
			lines = append(lines, fmt.Sprintf("- %s (%s)", t.Summary, t.Status))
		}
		history = strings.Join(lines, "\n")
	}

	out := strings.ReplaceAll(p.System, "{client_name}", name)
	out = strings.ReplaceAll(out, "{box_model}", boxModel)
	return strings.ReplaceAll(out, "{history}", history)
}

// SummaryFor renders the ticket-summary prompt over the transcript.
func (p Prompts) SummaryFor(conversation string) string {
	return strings.ReplaceAll(p.Summary, "{conversation}", conversation)
}
