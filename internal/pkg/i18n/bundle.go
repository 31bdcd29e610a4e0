package i18n

import (
	"strconv"
	"strings"

	"github.com/kart-io/helix-assistant/internal/model"
)

// Bundle 是一种语言的全部本地化文本。
type Bundle struct {
	Language       Language
	SystemPrompt   string
	CitationFormat string
	// ResponseInstruction 追加在租户自定义提示词之后，约束回答语言。
	ResponseInstruction string
	Messages            map[string]string
}

// FormatCitation 替换模板中的 {title} 与 {index}。
func (b *Bundle) FormatCitation(title string, index int) string {
	return strings.NewReplacer("{title}", title, "{index}", strconv.Itoa(index)).Replace(b.CitationFormat)
}

var bundles = map[Language]*Bundle{
	PortugueseBR: {
		Language: PortugueseBR,
		SystemPrompt: `Você é o assistente virtual do sistema SyncRH.
Você é profissional, direto e prestativo.
Use estritamente o contexto fornecido para responder.
Se a resposta não estiver no contexto, diga que não sabe.
Responda sempre em Português do Brasil.
Mantenha respostas concisas e objetivas.`,
		CitationFormat:      "Fonte: {title} (Seção {index})",
		ResponseInstruction: "Responda sempre em Português do Brasil.",
		Messages: map[string]string{
			MsgNoResults: "Nenhum resultado encontrado para sua busca.",
			MsgThinking:  "SyncRH está processando...",
			MsgError:     "Ocorreu um erro ao processar sua solicitação.",
			MsgWelcome:   "Olá! Sou o SyncRH. Como posso ajudá-lo?",
		},
	},
	English: {
		Language: English,
		SystemPrompt: `You are the virtual assistant of the SyncRH system.
You are professional, direct and helpful.
Use strictly the provided context to answer.
If the answer is not in the context, say you don't know.
Always respond in English.
Keep responses concise and objective.`,
		CitationFormat:      "Source: {title} (Section {index})",
		ResponseInstruction: "Always respond in English.",
		Messages: map[string]string{
			MsgNoResults: "No results found for your search.",
			MsgThinking:  "SyncRH is processing...",
			MsgError:     "An error occurred while processing your request.",
			MsgWelcome:   "Hello! I'm Helix. How can I help you?",
		},
	},
	Spanish: {
		Language: Spanish,
		SystemPrompt: `Eres el asistente virtual del sistema SyncRH.
Eres profesional, directo y servicial.
Usa estrictamente el contexto proporcionado para responder.
Si la respuesta no está en el contexto, di que no sabes.
Siempre responde en español.
Mantén las respuestas concisas y objetivas.`,
		CitationFormat:      "Fuente: {title} (Sección {index})",
		ResponseInstruction: "Siempre responde en español.",
		Messages: map[string]string{
			MsgNoResults: "No se encontraron resultados para su búsqueda.",
			MsgThinking:  "SyncRH está processando...",
			MsgError:     "Ocurrió un error al procesar su solicitud.",
			MsgWelcome:   "¡Hola! Soy SyncRH. ¿Cómo puedo ayudarte?",
		},
	},
	French: {
		Language: French,
		SystemPrompt: `Vous êtes l'assistant virtuel du système SyncRH.
Vous êtes professionnel, direct et utile.
Utilisez strictement le contexte fourni pour répondre.
Si la réponse n'est pas dans le contexte, dites que vous ne savez pas.
Répondez toujours en français.
Gardez les réponses concises et objectives.`,
		CitationFormat:      "Source: {title} (Section {index})",
		ResponseInstruction: "Répondez toujours en français.",
		Messages: map[string]string{
			MsgNoResults: "Aucun résultat trouvé pour votre recherche.",
			MsgThinking:  "SyncRH traite...",
			MsgError:     "Une erreur s'est produite lors du traitement de votre demande.",
			MsgWelcome:   "Bonjour! Je suis SyncRH. Comment puis-je vous aider?",
		},
	},
	German: {
		Language: German,
		SystemPrompt: `Sie sind der virtuelle Assistent des SyncRH-Systems.
Sie sind professionell, direkt und hilfreich.
Verwenden Sie ausschließlich den bereitgestellten Kontext, um zu antworten.
Wenn die Antwort nicht im Kontext vorhanden ist, sagen Sie, dass Sie es nicht wissen.
Antworten Sie immer auf Deutsch.
Halten Sie Antworten prägnant und sachlich.`,
		CitationFormat:      "Quelle: {title} (Abschnitt {index})",
		ResponseInstruction: "Antworten Sie immer auf Deutsch.",
		Messages: map[string]string{
			MsgNoResults: "Keine Ergebnisse für Ihre Suche gefunden.",
			MsgThinking:  "SyncRH verarbeitet...",
			MsgError:     "Ein Fehler ist bei der Verarbeitung Ihrer Anfrage aufgetreten.",
			MsgWelcome:   "Hallo! Ich bin SyncRH. Wie kann ich dir helfen?",
		},
	},
}

// bundleFor 返回语言的文本包；没有完整文本包的语言整体回退到默认语言。
func bundleFor(lang Language) *Bundle {
	if b, ok := bundles[lang]; ok {
		return b
	}
	return bundles[DefaultLanguage]
}

// ResolvedLanguage 返回实际生效的语言（可能是回退后的默认语言）。
func (m *Manager) ResolvedLanguage(lang Language) Language {
	return bundleFor(lang).Language
}

// PromptFor 组合租户配置与语言，得到最终的系统提示词。
//
// 租户仍使用默认提示词时：默认语言直接使用租户提示词，其余语言使用该
// 语言文本包的系统提示词。租户自定义的提示词原样保留，并追加目标语言的
// 回答约束。
func (m *Manager) PromptFor(cfg *model.TenantAssistantConfig, lang Language) string {
	b := bundleFor(lang)
	tenantPrompt := ""
	if cfg != nil {
		tenantPrompt = strings.TrimSpace(cfg.SystemPrompt)
	}

	if tenantPrompt == "" || tenantPrompt == model.DefaultSystemPrompt {
		if b.Language == DefaultLanguage {
			return model.DefaultSystemPrompt
		}
		return b.SystemPrompt
	}
	return tenantPrompt + "\n" + b.ResponseInstruction
}
