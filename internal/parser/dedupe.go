package parser

import "nodesieve/internal/domain"

// Dedupe drops nodes whose fingerprint was already seen, preserving
// first-seen order so later stages stay deterministic.
func Dedupe(nodes []*domain.Node) []*domain.Node {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]*domain.Node, 0, len(nodes))

	for _, node := range nodes {
		fingerprint := node.Fingerprint()
		if _, duplicate := seen[fingerprint]; duplicate {
			continue
		}
		seen[fingerprint] = struct{}{}
		out = append(out, node)
	}

	return out
}
