package token

import (
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Tokenization is the word segmentation of a normalized text. Offsets[i]
// is the byte offset of Tokens[i] in Text; every token is a substring of
// Text, so Text[Offsets[i]:Offsets[i]+len(Tokens[i])] == Tokens[i].
type Tokenization struct {
	Text    string
	Tokens  []string
	Offsets []int
}

// Tokenize segments normalized text into word tokens using UAX-29
// boundaries with these overrides outside code spans:
//
//   - '_' and '/' are token separators;
//   - internal '\'' and '-' stay inside a word;
//   - numbers with decimals/commas form a single token (UAX-29 MidNum);
//   - CJK falls back to per-codepoint segmentation (no dictionary wired).
//
// Segments without any letter or digit (punctuation, whitespace) are not
// tokens. The input must already be normalized; Tokenize never alters it.
func Tokenize(normalized string) Tokenization {
	tz := Tokenization{Text: normalized}

	state := -1
	rest := normalized
	off := 0
	for len(rest) > 0 {
		var seg string
		seg, rest, state = uniseg.FirstWordInString(rest, state)
		if hasAlnum(seg) {
			emitSubtokens(&tz, seg, off)
		}
		off += len(seg)
	}

	mergeJoined(&tz)
	return tz
}

// emitSubtokens splits a UAX-29 word on '_' and '/' and appends the
// alphanumeric pieces.
func emitSubtokens(tz *Tokenization, seg string, base int) {
	start := 0
	for i := 0; i <= len(seg); i++ {
		if i < len(seg) && seg[i] != '_' && seg[i] != '/' {
			continue
		}
		piece := seg[start:i]
		if hasAlnum(piece) {
			tz.Tokens = append(tz.Tokens, piece)
			tz.Offsets = append(tz.Offsets, base+start)
		}
		start = i + 1
	}
}

// mergeJoined fuses adjacent tokens separated by exactly one '-' or '\''
// so hyphenated compounds and contractions are single tokens even when
// the segmenter split them.
func mergeJoined(tz *Tokenization) {
	if len(tz.Tokens) < 2 {
		return
	}
	outTokens := tz.Tokens[:0]
	outOffsets := tz.Offsets[:0]
	curTok := tz.Tokens[0]
	curOff := tz.Offsets[0]
	for i := 1; i < len(tz.Tokens); i++ {
		gapStart := curOff + len(curTok)
		gapEnd := tz.Offsets[i]
		if gapEnd-gapStart == 1 {
			switch tz.Text[gapStart] {
			case '-', '\'':
				curTok = tz.Text[curOff : gapEnd+len(tz.Tokens[i])]
				continue
			}
		}
		outTokens = append(outTokens, curTok)
		outOffsets = append(outOffsets, curOff)
		curTok = tz.Tokens[i]
		curOff = tz.Offsets[i]
	}
	outTokens = append(outTokens, curTok)
	outOffsets = append(outOffsets, curOff)
	tz.Tokens = outTokens
	tz.Offsets = outOffsets
}

func hasAlnum(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
		i += size
	}
	return false
}

// Total returns the number of tokens.
func (tz Tokenization) Total() int { return len(tz.Tokens) }

// Span returns the tokens in [offset, offset+length), or false if the
// span is out of bounds or empty.
func (tz Tokenization) Span(offset, length int) ([]string, bool) {
	if offset < 0 || length < 1 || offset+length > len(tz.Tokens) {
		return nil, false
	}
	return tz.Tokens[offset : offset+length], true
}

// ByteRange returns the byte range in Text covered by the token span,
// from the first token's start to the last token's end.
func (tz Tokenization) ByteRange(offset, length int) (start, end int, ok bool) {
	if _, ok := tz.Span(offset, length); !ok {
		return 0, 0, false
	}
	start = tz.Offsets[offset]
	last := offset + length - 1
	end = tz.Offsets[last] + len(tz.Tokens[last])
	return start, end, true
}
