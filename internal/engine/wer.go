package engine

import (
	"strings"
	"unicode"
)

// WERResult breaks down the word error rate between a reference and a
// hypothesis transcript.
type WERResult struct {
	Rate          float64 // (S+I+D)/RefWords; 0 is a perfect match
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

// ComputeWER measures how far a hypothesis transcript diverges from a
// reference. Both texts are normalized first: lowercased, punctuation
// stripped, whitespace collapsed.
func ComputeWER(reference, hypothesis string) WERResult {
	ref := normalizeWords(reference)
	hyp := normalizeWords(hypothesis)
	if len(ref) == 0 {
		return WERResult{}
	}

	subs, ins, dels := alignWords(ref, hyp)
	return WERResult{
		Rate:          float64(subs+ins+dels) / float64(len(ref)),
		Substitutions: subs,
		Insertions:    ins,
		Deletions:     dels,
		RefWords:      len(ref),
	}
}

// alignWords runs a word-level edit distance between ref and hyp and
// returns the operation counts from the minimal alignment.
func alignWords(ref, hyp []string) (subs, ins, dels int) {
	n, m := len(ref), len(hyp)

	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			d[i][j] = min(d[i-1][j-1], min(d[i-1][j], d[i][j-1])) + 1
		}
	}

	// Walk the table back to classify each edit.
	for i, j := n, m; i > 0 || j > 0; {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			subs++
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			dels++
			i--
		default:
			ins++
			j--
		}
	}
	return subs, ins, dels
}

// normalizeWords lowercases text, strips punctuation, and splits into words.
func normalizeWords(s string) []string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
	return strings.Fields(s)
}
