package correlation

// iocIndex maps indicator values to the node IDs carrying them. Built
// once per correlation run from the typed IOC sets, never re-derived
// from metadata during edge construction.
type iocIndex struct {
	ips     map[string][]string
	domains map[string][]string
	hashes  map[string][]string
}

func newIOCIndex() *iocIndex {
	return &iocIndex{
		ips:     make(map[string][]string),
		domains: make(map[string][]string),
		hashes:  make(map[string][]string),
	}
}

func (idx *iocIndex) add(nodeID string, ips, domains, hashes []string) {
	for _, ip := range ips {
		idx.ips[ip] = append(idx.ips[ip], nodeID)
	}
	for _, d := range domains {
		idx.domains[d] = append(idx.domains[d], nodeID)
	}
	for _, h := range hashes {
		idx.hashes[h] = append(idx.hashes[h], nodeID)
	}
}

// sharedIndicator walks one indicator type's index and yields every node
// pair sharing a value.
func (idx *iocIndex) pairs(kind string) [][2]string {
	var m map[string][]string
	switch kind {
	case "ip":
		m = idx.ips
	case "domain":
		m = idx.domains
	case "hash":
		m = idx.hashes
	default:
		return nil
	}

	var out [][2]string
	for _, nodes := range m {
		for i := 0; i < len(nodes); i++ {
			for j := i + 1; j < len(nodes); j++ {
				out = append(out, [2]string{nodes[i], nodes[j]})
			}
		}
	}
	return out
}
