package parser

import (
	"sort"
	"strconv"
	"strings"

	"pagelens/internal/domain"
)

// element is a classified node flowing through the parse stages.
type element struct {
	node         *domain.RawNode
	interactive  bool
	hidden       bool
	text         string
	childrenText string

	repeat    int
	seqLen    int
	seqRepeat int
}

// shapeSignature is the structural identity used for compression: tag plus
// the sorted set of attribute names, ignoring every value and all text. Rows
// stamped from one template differ only in text and attribute values, so
// their signatures collide exactly.
func shapeSignature(n *domain.RawNode) string {
	if len(n.Attrs) == 0 {
		return n.Tag
	}
	names := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		if k == domain.RefAttr || k == domain.GenAttr {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return n.Tag + ":" + strings.Join(names, ",")
}

// contextKey identifies a node's structural surroundings for run grouping:
// the tag chain of its recorded ancestors. Position is deliberately left out,
// so list items each wrapped in their own li still form one run, while a nav
// link run never merges into a footer link run.
func contextKey(n *domain.RawNode) string {
	if len(n.Ancestry) > 1 {
		tags := make([]string, 0, len(n.Ancestry)-1)
		for _, hop := range n.Ancestry[:len(n.Ancestry)-1] {
			tags = append(tags, hop.Tag)
		}
		return strings.Join(tags, ">")
	}
	if len(n.Path) == 0 {
		return ""
	}
	parent := n.Path[:len(n.Path)-1]
	var b strings.Builder
	for _, idx := range parent {
		b.WriteString(strconv.Itoa(idx))
		b.WriteByte('.')
	}
	return b.String()
}

// compress collapses structural repetition in one element stream. Repeating
// multi-element sequences are collapsed first (card layouts alternate tags,
// so plain runs never catch them), then consecutive same-shape sibling runs
// in whatever survived.
func compress(els []*element, threshold int) []*element {
	if len(els) < threshold {
		return els
	}
	if out := compressSequences(els, threshold); out != nil {
		els = out
	}
	return compressRuns(els, threshold)
}

// compressRuns collapses each run of >= threshold consecutive same-shape,
// same-context elements to its first element annotated with the run length.
func compressRuns(els []*element, threshold int) []*element {
	out := make([]*element, 0, len(els))
	i := 0
	for i < len(els) {
		sig := shapeSignature(els[i].node)
		ctx := contextKey(els[i].node)
		run := 1
		for i+run < len(els) &&
			shapeSignature(els[i+run].node) == sig &&
			contextKey(els[i+run].node) == ctx {
			run++
		}
		if run >= threshold {
			rep := els[i]
			rep.repeat = run
			out = append(out, rep)
		} else {
			out = append(out, els[i:i+run]...)
		}
		i += run
	}
	return out
}

// compressSequences detects a repeating multi-element period (length 2..10)
// and collapses each stretch of >= 3 consecutive repetitions to its first
// period, annotating the period's last element. Returns nil when the stream
// has no dominant period, letting run compression take over.
func compressSequences(els []*element, threshold int) []*element {
	sigs := make([]string, len(els))
	for i, el := range els {
		sigs[i] = shapeSignature(el.node)
	}

	bestLen, bestCount := 0, 0
	maxLen := len(els) / 3
	if maxLen > 10 {
		maxLen = 10
	}
	for seqLen := 2; seqLen <= maxLen; seqLen++ {
		counts := make(map[string]int)
		for i := 0; i+seqLen <= len(sigs); i += seqLen {
			// A period of one repeated signature is a plain run; leave those
			// to run compression so they collapse to one representative.
			if !heterogeneous(sigs[i : i+seqLen]) {
				continue
			}
			counts[strings.Join(sigs[i:i+seqLen], "|")]++
		}
		need := threshold / seqLen
		if need < 1 {
			need = 1
		}
		for _, c := range counts {
			if c >= need && c > bestCount {
				bestCount = c
				bestLen = seqLen
			}
		}
	}
	if bestLen == 0 || bestCount < 3 {
		return nil
	}

	out := make([]*element, 0, len(els))
	compressed := false
	i := 0
	for i < len(els) {
		if i+bestLen > len(els) {
			out = append(out, els[i])
			i++
			continue
		}
		if !heterogeneous(sigs[i : i+bestLen]) {
			out = append(out, els[i])
			i++
			continue
		}
		cur := strings.Join(sigs[i:i+bestLen], "|")
		instances := 0
		for j := i; j+bestLen <= len(els) && strings.Join(sigs[j:j+bestLen], "|") == cur; j += bestLen {
			instances++
		}
		if instances >= 3 {
			period := els[i : i+bestLen]
			out = append(out, period...)
			period[len(period)-1].seqLen = bestLen
			period[len(period)-1].seqRepeat = instances
			compressed = true
			i += instances * bestLen
		} else {
			out = append(out, els[i:i+bestLen]...)
			i += bestLen
		}
	}
	if !compressed {
		return nil
	}
	return out
}

func heterogeneous(window []string) bool {
	for _, s := range window[1:] {
		if s != window[0] {
			return true
		}
	}
	return false
}
