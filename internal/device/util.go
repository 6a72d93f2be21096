package device

import "strconv"

func formatNodeID(nodeID int64) string {
	return strconv.FormatInt(nodeID, 10)
}
