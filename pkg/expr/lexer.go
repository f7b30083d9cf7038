// Package expr реализует безопасный вычислитель выражений для условий
// и проверок. Грамматика намеренно ограничена: литералы, сравнения,
// булевы операторы, членство in/not in, доступ к атрибутам и индексам,
// и небольшой белый список функций (len, str, int, float, .get).
// Идентификаторы разрешаются только по переданным связываниям.
package expr

import (
	"strings"
	"unicode"

	"github.com/farmanp/turbulence/pkg/apperror"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp     // == != < <= > >=
	tokAnd
	tokOr
	tokNot
	tokIn
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
	tokMinus
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// forbiddenWords - конструкции, которые отклоняются ещё на лексере
var forbiddenWords = map[string]bool{
	"import": true,
	"lambda": true,
	"def":    true,
	"exec":   true,
	"eval":   true,
	"while":  true,
	"for":    true,
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		c := runes[i]

		if unicode.IsSpace(c) {
			i++
			continue
		}

		switch c {
		case '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
			continue
		case '[':
			tokens = append(tokens, token{tokLBracket, "[", i})
			i++
			continue
		case ']':
			tokens = append(tokens, token{tokRBracket, "]", i})
			i++
			continue
		case ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
			continue
		case '.':
			// Число вида ".5" не поддерживаем, точка - только доступ к атрибуту
			tokens = append(tokens, token{tokDot, ".", i})
			i++
			continue
		case '-':
			tokens = append(tokens, token{tokMinus, "-", i})
			i++
			continue
		case '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokOp, "==", i})
				i += 2
				continue
			}
			return nil, apperror.New(apperror.CodeExpressionSecurity,
				"assignment is not allowed in expressions")
		case '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokOp, "!=", i})
				i += 2
				continue
			}
			return nil, apperror.Newf(apperror.CodeExpressionError, "unexpected character %q", string(c))
		case '<', '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokOp, string(c) + "=", i})
				i += 2
				continue
			}
			tokens = append(tokens, token{tokOp, string(c), i})
			i++
			continue
		case '\'', '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(runes) && runes[j] != quote {
				if runes[j] == '\\' && j+1 < len(runes) {
					j++
				}
				sb.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, apperror.New(apperror.CodeExpressionError, "unterminated string literal")
			}
			tokens = append(tokens, token{tokString, sb.String(), i})
			i = j + 1
			continue
		}

		if unicode.IsDigit(c) {
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, string(runes[i:j]), i})
			i = j
			continue
		}

		if unicode.IsLetter(c) || c == '_' {
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			if forbiddenWords[strings.ToLower(word)] {
				return nil, apperror.Newf(apperror.CodeExpressionSecurity,
					"forbidden construct %q", word)
			}
			switch word {
			case "and":
				tokens = append(tokens, token{tokAnd, word, i})
			case "or":
				tokens = append(tokens, token{tokOr, word, i})
			case "not":
				tokens = append(tokens, token{tokNot, word, i})
			case "in":
				tokens = append(tokens, token{tokIn, word, i})
			default:
				tokens = append(tokens, token{tokIdent, word, i})
			}
			i = j
			continue
		}

		return nil, apperror.Newf(apperror.CodeExpressionError, "unexpected character %q at %d", string(c), i)
	}

	tokens = append(tokens, token{tokEOF, "", len(runes)})
	return tokens, nil
}
