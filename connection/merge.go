package connection

// mergeByKeyPreferNewest folds a freshly loaded connection list into the
// connections already resident for a channel.
//
// Loaded entries are de-duplicated by cid; of two copies the one issued later
// wins, and on equal iat the one appearing later in the list. A resident entry
// is only replaced by a loaded one with a strictly newer iat, so a load that
// started before a local write cannot undo that write.
func mergeByKeyPreferNewest(resident map[string]Connection, loaded []Connection) map[string]Connection {
	merged := make(map[string]Connection, len(resident)+len(loaded))
	for _, conn := range loaded {
		if prev, ok := merged[conn.CID]; ok && prev.IAT > conn.IAT {
			continue
		}
		merged[conn.CID] = conn
	}
	for cid, conn := range resident {
		if fresh, ok := merged[cid]; ok && fresh.IAT > conn.IAT {
			continue
		}
		merged[cid] = conn
	}
	return merged
}
