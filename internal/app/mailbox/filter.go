package mailbox

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/emersion/go-imap/v2"
)

// ParseFilter translates a search expression into IMAP search criteria.
// An empty expression matches everything.
func ParseFilter(expr string) (*imap.SearchCriteria, error) {
	if strings.TrimSpace(expr) == "" {
		return &imap.SearchCriteria{}, nil
	}

	criteria, _, err := parseExpression([]rune(expr), 0)
	if err != nil {
		return nil, fmt.Errorf("parse filter expression %q: %w", expr, err)
	}
	return criteria, nil
}

/*
	Expression syntax

	Expression:
		Expression || Term
		Term

	Term:
		Term && Expression
		Primary

	Primary:
		FlagToken
		HeaderToken == String
		HeaderToken != String
		MsgToken == String
		MsgToken != String
		!Primary
		( Expression )
*/

func parseExpression(expr []rune, i int) (*imap.SearchCriteria, int, error) {
	var criteria *imap.SearchCriteria
	var err error

	criteria, i, err = parseTerm(expr, i)
	if err != nil {
		return nil, i, err
	}

	var (
		t      *imap.SearchCriteria
		opFunc boolOpFunc
	)

	for i < len(expr) {
		c := expr[i]

		switch {
		case unicode.IsSpace(c):
			i++

		case c == '|':
			opFunc, i, err = parseBoolOp(expr, i+1, '|')
			if err != nil {
				return nil, i, err
			}

			t, i, err = parseTerm(expr, i)
			if err != nil {
				return nil, i, err
			}

			criteria = opFunc(criteria, t)

		default:
			return criteria, i + 1, nil
		}
	}

	return criteria, i, nil
}

func parseTerm(expr []rune, i int) (*imap.SearchCriteria, int, error) {
	var criteria *imap.SearchCriteria
	var err error

	criteria, i, err = parsePrimary(expr, i)
	if err != nil {
		return nil, i, err
	}

	var (
		t      *imap.SearchCriteria
		opFunc boolOpFunc
	)

	for i < len(expr) {
		c := expr[i]

		switch {
		case unicode.IsSpace(c):
			i++

		case c == '&':
			opFunc, i, err = parseBoolOp(expr, i+1, '&')
			if err != nil {
				return nil, i, err
			}

			t, i, err = parseExpression(expr, i)
			if err != nil {
				return nil, i, err
			}

			criteria = opFunc(criteria, t)
			i++

		default:
			return criteria, i, nil
		}
	}

	return criteria, i, nil
}

func parsePrimary(expr []rune, i int) (*imap.SearchCriteria, int, error) {
	var criteria *imap.SearchCriteria
	var t *imap.SearchCriteria
	var err error

parseLoop:
	for i < len(expr) {
		c := expr[i]

		switch {
		case unicode.IsSpace(c):
			i++

		case c == '!':
			t, i, err = parsePrimary(expr, i+1)
			if err != nil {
				return nil, i, err
			}

			return negateCriteria(t), i, nil

		case c == '(':
			return parseExpression(expr, i+1)

		default:
			break parseLoop
		}
	}

	var (
		opFunc cmpOpFunc
		t1, t2 string
	)

	t1, i = parseToken(expr, i)
	if _, ok := flagTokens[strings.ToUpper(t1)]; ok {
		criteria = &imap.SearchCriteria{}
		return assignFlag(criteria, strings.ToUpper(t1)), i, nil
	}

	for i < len(expr) {
		c := expr[i]

		switch {
		case unicode.IsSpace(c):
			i++

		case c == '=' || c == '!':
			opFunc, i, err = parseCmpOp(expr, i+1, c)
			if err != nil {
				return nil, i, err
			}
			i++

			t2, i, err = parseQuotedToken(expr, i)
			if err != nil {
				return nil, i, err
			}
			criteria = &imap.SearchCriteria{}

			return opFunc(criteria, t1, t2), i, nil
		}
	}

	return criteria, i, nil
}

func parseToken(expr []rune, i int) (string, int) {
	var sb strings.Builder

	for i < len(expr) {
		c := expr[i]

		switch {
		case unicode.IsLetter(c) || c == '-':
			sb.WriteRune(c)
			i++

		default:
			return sb.String(), i
		}
	}

	return sb.String(), i
}

func parseQuotedToken(expr []rune, i int) (string, int, error) {
	var sb strings.Builder
	var startQuote rune

	for i < len(expr) {
		c := expr[i]

		switch {
		case startQuote == 0 && (c == '\'' || c == '"'):
			startQuote = c
			i++

		case startQuote == 0 && unicode.IsSpace(c):
			i++

		case startQuote == 0:
			return "", i, fmt.Errorf("expected starting quote but got '%c'", c)

		case startQuote != 0 && c != startQuote:
			sb.WriteRune(c)
			i++

		case startQuote != 0 && c == startQuote:
			return sb.String(), i + 1, nil
		}
	}

	if startQuote != 0 {
		return "", i, errors.New("missing closing quote")
	}

	return sb.String(), i, nil
}

func parseBoolOp(expr []rune, i int, opChar rune) (boolOpFunc, int, error) {
	for i < len(expr) {
		c := expr[i]

		switch {
		case c == opChar && opChar == '|':
			return orCriteria, i + 1, nil

		case c == opChar && opChar == '&':
			return andCriteria, i + 1, nil

		default:
			return nil, i, fmt.Errorf("unexpected '%c' token while parsing '%c' bool function", c, opChar)
		}
	}

	return nil, i, errors.New("bool operation parsing stopped unexpectedly")
}

func parseCmpOp(expr []rune, i int, opChar rune) (cmpOpFunc, int, error) {
	for i < len(expr) {
		c := expr[i]

		switch {
		case opChar == '=' && c == '=':
			return eqCriteria, i, nil

		case opChar == '!' && c == '=':
			return notEqCriteria, i, nil

		default:
			return nil, i, fmt.Errorf("unexpected token '%c'", c)
		}
	}

	return nil, i, errors.New("compare operation parsing stopped unexpectedly")
}

type cmpOpFunc func(*imap.SearchCriteria, string, string) *imap.SearchCriteria

func eqCriteria(c *imap.SearchCriteria, k, v string) *imap.SearchCriteria {
	switch strings.ToUpper(k) {
	case "BODY":
		c.Body = append(c.Body, v)
	case "TEXT":
		c.Text = append(c.Text, v)
	default:
		c.Header = append(c.Header, imap.SearchCriteriaHeaderField{
			Key:   k,
			Value: v,
		})
	}
	return c
}

func notEqCriteria(c *imap.SearchCriteria, k, v string) *imap.SearchCriteria {
	c.Not = append(c.Not, *eqCriteria(&imap.SearchCriteria{}, k, v))
	return c
}

type boolOpFunc func(c1, c2 *imap.SearchCriteria) *imap.SearchCriteria

func andCriteria(c1, c2 *imap.SearchCriteria) *imap.SearchCriteria {
	if c1 == nil {
		return c2
	}
	if c2 == nil {
		return c1
	}

	c1.And(c2)
	return c1
}

func orCriteria(c1, c2 *imap.SearchCriteria) *imap.SearchCriteria {
	return &imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{*c1, *c2}},
	}
}

// negateCriteria inverts a parsed primary. A criteria holding nothing
// but a single flag folds into its dual (SEEN <-> UNSEEN); anything
// more structured is wrapped in NOT, which is wire-equivalent.
func negateCriteria(c *imap.SearchCriteria) *imap.SearchCriteria {
	flagsOnly := len(c.Not) == 0 && len(c.Or) == 0 && len(c.Header) == 0 &&
		len(c.Body) == 0 && len(c.Text) == 0

	if flagsOnly && len(c.Flag) == 1 && len(c.NotFlag) == 0 {
		return &imap.SearchCriteria{NotFlag: c.Flag}
	}
	if flagsOnly && len(c.NotFlag) == 1 && len(c.Flag) == 0 {
		return &imap.SearchCriteria{Flag: c.NotFlag}
	}

	return &imap.SearchCriteria{Not: []imap.SearchCriteria{*c}}
}

func assignFlag(c *imap.SearchCriteria, flagToken string) *imap.SearchCriteria {
	flag, ok := flagTokens[flagToken]
	if !ok {
		return c
	}

	if _, ok := strings.CutPrefix(flagToken, "UN"); ok {
		c.NotFlag = append(c.NotFlag, flag)
		return c
	}

	c.Flag = append(c.Flag, flag)
	return c
}

var flagTokens = map[string]imap.Flag{
	"JUNK":       imap.FlagJunk,
	"SEEN":       imap.FlagSeen,
	"UNSEEN":     imap.FlagSeen,
	"DRAFT":      imap.FlagDraft,
	"UNDRAFT":    imap.FlagDraft,
	"DELETED":    imap.FlagDeleted,
	"UNDELETED":  imap.FlagDeleted,
	"FLAGGED":    imap.FlagFlagged,
	"UNFLAGGED":  imap.FlagFlagged,
	"ANSWERED":   imap.FlagAnswered,
	"UNANSWERED": imap.FlagAnswered,
	"IMPORTANT":  imap.FlagImportant,
	"FORWARDED":  imap.FlagForwarded,
}
