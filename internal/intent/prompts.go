// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_intent

// Prompt templates for JSON classification. Each template carries a
// {user_text} placeholder substituted at call time.
const (
	PromptYesNo = `Analyse cette réponse utilisateur et retourne un JSON:
{
  "intent": "yes" | "no" | "unclear",
  "confidence": 0.0-1.0,
  "extracted_value": null,
  "is_off_topic": false/true,
  "requires_clarification": false/true,
  "reasoning": "explication courte"
}

Réponse utilisateur: "{user_text}"

Critères:
- "yes" si: oui, ok, d'accord, exactement, tout à fait, bien sûr
- "no" si: non, pas du tout, jamais
- "unclear" si: réponse ambiguë ou hors sujet
- is_off_topic = true si parle à quelqu'un d'autre
- requires_clarification = true si confiance < 0.6
`

	PromptProblemType = `Analyse le problème mentionné et retourne un JSON:
{
  "intent": "internet_issue" | "mobile_issue" | "modification_request" | "unclear",
  "confidence": 0.0-1.0,
  "extracted_value": "description courte du problème",
  "is_off_topic": false/true,
  "requires_clarification": false/true,
  "reasoning": "explication"
}

Utilisateur: "{user_text}"

Critères:
- "internet_issue": box, wifi, connexion internet, réseau
- "mobile_issue": téléphone, mobile, appels, SMS
- "modification_request": changer, modifier, ajouter
`

	PromptEmail = `Extrait l'email de cette transcription et retourne un JSON:
{
  "intent": "email_provided",
  "confidence": 0.0-1.0,
  "extracted_value": "email@example.com",
  "is_off_topic": false,
  "requires_clarification": false/true,
  "reasoning": "explication"
}

Utilisateur: "{user_text}"

Instructions:
- Convertis "arobase"/"at"/"chez" → @
- Convertis "point"/"dot" → .
- Extrait le format email standard
- requires_clarification = true si email invalide
`

	PromptIdentity = `Extrait les informations d'identité et retourne un JSON:
{
  "intent": "identity_provided",
  "confidence": 0.0-1.0,
  "extracted_value": {
    "name": "prénom nom" ou null,
    "company": "entreprise" ou null
  },
  "is_off_topic": false/true,
  "requires_clarification": false/true,
  "reasoning": "explication"
}

Utilisateur: "{user_text}"
`
)
