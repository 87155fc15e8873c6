package retrieve

import (
	"sort"
	"strings"

	"alexandria/internal/rag/chapters"
)

const (
	childrenBudgetFraction  = 0.40
	parentsBudgetFraction   = 0.40
	siblingsBudgetFraction  = 0.20
	truncatedMarker         = "\n[truncated]"
)

// assemble builds the single assembled_context string per spec.md §4.9 step
// 6: children are never truncated (lowest-scored dropped first if they
// alone exceed budget), parents are truncated to fit rather than dropped,
// siblings are dropped from the lowest-priority neighborhood first.
func assemble(children []ChildHit, parents map[string]map[string]any, siblings map[string][]map[string]any, maxTokens int) (string, int) {
	childBudget := int(float64(maxTokens) * childrenBudgetFraction)
	parentBudget := int(float64(maxTokens) * parentsBudgetFraction)
	siblingBudget := int(float64(maxTokens) * siblingsBudgetFraction)

	keptChildren, childTokens := fitChildren(children, childBudget)
	parentBlock, parentTokens := fitParents(keptChildren, parents, parentBudget)
	siblingBlock, siblingTokens := fitSiblings(keptChildren, siblings, siblingBudget)

	var sb strings.Builder
	for i, c := range keptChildren {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		text, _ := c.Payload["text"].(string)
		sb.WriteString(text)
	}
	if parentBlock != "" {
		sb.WriteString("\n===\n")
		sb.WriteString(parentBlock)
	}
	if siblingBlock != "" {
		sb.WriteString("\n===\n")
		sb.WriteString(siblingBlock)
	}

	total := childTokens + parentTokens + siblingTokens
	return sb.String(), total
}

// fitChildren walks children from highest to lowest score and skips any
// child that would push the running token count over budget (the top child
// is always kept). Children are never truncated, only dropped whole.
func fitChildren(children []ChildHit, budget int) ([]ChildHit, int) {
	ordered := append([]ChildHit(nil), children...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	kept := make([]ChildHit, 0, len(ordered))
	total := 0
	for _, c := range ordered {
		text, _ := c.Payload["text"].(string)
		n := chapters.CountTokens(text)
		if len(kept) > 0 && total+n > budget {
			continue
		}
		kept = append(kept, c)
		total += n
	}
	// Restore the input order of whichever children survived.
	keptSet := make(map[string]bool, len(kept))
	for _, c := range kept {
		keptSet[c.ID] = true
	}
	result := make([]ChildHit, 0, len(kept))
	for _, c := range children {
		if keptSet[c.ID] {
			result = append(result, c)
		}
	}
	return result, total
}

func fitParents(children []ChildHit, parents map[string]map[string]any, budget int) (string, int) {
	if len(parents) == 0 || budget <= 0 {
		return "", 0
	}
	ids := distinctParentIDs(children)
	if len(ids) == 0 {
		return "", 0
	}
	perParent := budget / len(ids)
	var sb strings.Builder
	total := 0
	for i, pid := range ids {
		payload, ok := parents[pid]
		if !ok {
			continue
		}
		fullText, _ := payload["full_text"].(string)
		text, truncated := truncateToTokens(fullText, perParent)
		if truncated {
			text += truncatedMarker
		}
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(text)
		total += chapters.CountTokens(text)
	}
	return sb.String(), total
}

func distinctParentIDs(children []ChildHit) []string {
	seen := map[string]bool{}
	var ids []string
	for _, c := range children {
		pid, _ := c.Payload["parent_id"].(string)
		if pid == "" || seen[pid] {
			continue
		}
		seen[pid] = true
		ids = append(ids, pid)
	}
	return ids
}

// fitSiblings fills sibling text in child-priority (score descending)
// order, stopping once the budget is exhausted; lower-priority children's
// sibling neighborhoods are dropped entirely rather than partially.
func fitSiblings(children []ChildHit, siblings map[string][]map[string]any, budget int) (string, int) {
	if len(siblings) == 0 || budget <= 0 {
		return "", 0
	}
	ordered := append([]ChildHit(nil), children...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	var sb strings.Builder
	total := 0
	wrote := false
	for _, c := range ordered {
		neighbors, ok := siblings[c.ID]
		if !ok || len(neighbors) == 0 {
			continue
		}
		var block strings.Builder
		blockTokens := 0
		for _, n := range neighbors {
			text, _ := n["text"].(string)
			blockTokens += chapters.CountTokens(text)
			if block.Len() > 0 {
				block.WriteString("\n")
			}
			block.WriteString(text)
		}
		if total+blockTokens > budget {
			break
		}
		if wrote {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(block.String())
		total += blockTokens
		wrote = true
	}
	return sb.String(), total
}

func truncateToTokens(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", text != ""
	}
	if chapters.CountTokens(text) <= maxTokens {
		return text, false
	}
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate := strings.Join(words[:mid], " ")
		if chapters.CountTokens(candidate) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " "), true
}
