// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_config

// Phrase keys for the static audio cache. Each key maps to a pre-rendered
// <key>.raw file produced by cmd/warm-cache.
const (
	PhraseGreet       = "greet"
	PhraseWelcome     = "welcome"
	PhraseAskIdentity = "ask_identity"
	PhraseAskEmail    = "ask_email"

	PhraseOK               = "ok"
	PhraseWait             = "wait"
	PhraseFillerChecking   = "filler_checking"
	PhraseFillerProcessing = "filler_processing"

	PhraseStillThere     = "still_there_gentle"
	PhraseClarifyUnclear = "clarify_unclear"
	PhraseClarifyYesNo   = "clarify_yes_no"

	PhraseTransfer         = "transfer"
	PhraseEmpathyTransfer  = "empathy_transfer"
	PhraseTicketTransferOK = "ticket_transfer_ok"
	PhraseTicketNotRelated = "ticket_not_related"
	PhraseConfirmTicket    = "confirm_ticket"
	PhraseTicketCreated    = "ticket_created"

	PhraseClosedHours = "closed_hours"
	PhraseGoodbye     = "goodbye"
	PhraseError       = "error"
)

// CachedPhrases holds the French copy behind every static phrase key.
// cmd/warm-cache renders these through TTS; the realtime path only ever
// reads the resulting .raw files.
var CachedPhrases = map[string]string{
	PhraseGreet:       "Bonjour et bienvenue au service support technique de chez Wipple.",
	PhraseWelcome:     "Je suis Eko, votre assistant virtuel. Je vais vous aider à enregistrer votre demande afin de vous dépanner rapidement.",
	PhraseAskIdentity: "Pour commencer, pouvez-vous me donner votre nom, votre prénom, ainsi que le nom de votre entreprise, s'il vous plaît ?",
	"ask_firstname":   "Quel est votre prénom ?",
	PhraseAskEmail:    "Pouvez-vous m'épeler votre adresse email afin de créer un ticket attitré ?",
	"ask_company":     "Quel est le nom de votre entreprise ?",
	"email_invalid":   "L'adresse email que vous avez donnée semble incorrecte. Pouvez-vous la répéter ?",

	"ask_problem_or_modif":      "Merci. S'agit-il d'une panne technique ou d'une demande de modification sur votre installation ?",
	"ask_description_technique": "D'accord. Pouvez-vous m'expliquer en détail votre problème ? Prenez votre temps, je vous écoute.",
	"ask_number_equipement":     "Combien d'équipements sont concernés par ce problème ?",
	"ask_restart_devices":       "Avez-vous essayé de redémarrer vos équipements ?",

	PhraseOK:               "D'accord.",
	PhraseWait:             "Un instant s'il vous plaît.",
	PhraseFillerChecking:   "Je vérifie cela.",
	PhraseFillerProcessing: "Je traite votre demande.",

	PhraseStillThere:     "Êtes-vous toujours là ?",
	PhraseClarifyUnclear: "Je n'ai pas bien compris. Pouvez-vous reformuler ?",
	PhraseClarifyYesNo:   "Pouvez-vous me répondre par oui ou par non ?",

	PhraseTransfer:         "Je vous transfère à un technicien. Ne raccrochez pas.",
	PhraseEmpathyTransfer:  "Je comprends votre frustration et je suis désolé pour la gêne occasionnée. Je vous transfère immédiatement à un conseiller.",
	PhraseTicketTransferOK: "Très bien, je vous transfère immédiatement à un technicien qui va prendre la suite.",
	"offer_email_transfer": "Je peux vous envoyer un email avec les détails du problème et vous serez rappelé dans les plus brefs délais.",

	PhraseConfirmTicket: "Très bien. J'ai bien enregistré votre demande. Je procède maintenant à la création de votre ticket.",
	PhraseTicketCreated: "Votre ticket a été créé avec succès. Vous allez recevoir un email de confirmation avec le numéro de ticket.",

	PhraseTicketNotRelated: "D'accord, quel est votre problème aujourd'hui ?",

	PhraseClosedHours: "Nos bureaux sont actuellement fermés. Le service technique est disponible du lundi au jeudi de neuf heures à douze heures et de quatorze heures à dix-huit heures, et le vendredi de neuf heures à douze heures et de quatorze heures à dix-sept heures.",

	PhraseGoodbye: "Au revoir et bonne journée. N'hésitez pas à nous rappeler si besoin.",
	PhraseError:   "Je suis désolé, une erreur technique s'est produite. Veuillez réessayer.",
}
