package service

import (
	"strings"
	"unicode"

	"github.com/recrutai/engage-server-go/internal/model"
)

type keywordRule struct {
	intent     model.Intent
	confidence float64
	keywords   []string
}

// keywordTable is scanned in order; the first rule with a matching keyword
// wins. Keywords are accent-free lowercase and match at word starts.
// Negated forms of later keywords ("nao posso confirmar") must sit in an
// earlier rule.
var keywordTable = []keywordRule{
	{model.IntentRescheduleInterview, 0.8, []string{
		"remarc", "reagend", "adiar", "outro horario", "outro dia", "mudar o horario",
		"mudar a data", "trocar o horario", "trocar a data", "nao posso ir", "nao vou conseguir ir",
		"nao posso confirmar", "nao consigo confirmar", "nao vou poder", "nao vou conseguir",
		"nao estarei", "nao confirmo",
	}},
	{model.IntentWithdraw, 0.8, []string{
		"desist", "nao tenho mais interesse", "nao tenho interesse", "sem interesse",
		"nao me interessa", "nao quero mais", "retirar minha candidatura",
		"cancelar minha candidatura", "ja fui contratad", "aceitei outra",
	}},
	{model.IntentTalkToHuman, 0.75, []string{
		"falar com", "atendente", "humano", "recrutador", "recrutadora", "pessoa real", "alguem da equipe",
	}},
	{model.IntentSendDocuments, 0.7, []string{
		"document", "curriculo", "cv", "anexo", "comprovante", "rg", "cpf", "carteira de trabalho",
	}},
	{model.IntentConfirmInterview, 0.7, []string{
		"confirm", "estarei la", "estarei presente", "vou sim", "pode contar", "combinado", "com certeza",
	}},
	{model.IntentJobInterest, 0.6, []string{
		"vaga", "interess", "oportunidade", "salario", "beneficio",
	}},
	{model.IntentGreeting, 0.5, []string{
		"oi", "ola", "bom dia", "boa tarde", "boa noite", "tudo bem",
	}},
}

var accentFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c', 'ñ': 'n',
}

// foldText lowercases s, strips accents and collapses everything that is not
// a letter or digit into single spaces. The result starts and ends with a
// space so keywords can be matched at word starts.
func foldText(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if folded, ok := accentFold[r]; ok {
			r = folded
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// matchKeywords runs the local tier over text.
func matchKeywords(text string) (model.Intent, float64, bool) {
	folded := foldText(text)
	for _, rule := range keywordTable {
		for _, kw := range rule.keywords {
			if strings.Contains(folded, " "+kw) {
				return rule.intent, rule.confidence, true
			}
		}
	}
	return model.IntentOther, 0, false
}
