package peer

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/peerprobe/types/key"
	"go.mongodb.org/mongo-driver/bson"
)

type recordDoc struct {
	ID        string             `bson:"id"`
	Address   string             `bson:"addr,omitempty"`
	PublicKey *key.SessionPublic `bson:"key,omitempty"`
	FirstSeen time.Time          `bson:"first_seen"`
}

type registryDoc struct {
	Peers []recordDoc `bson:"peers"`
}

// MarshalBSON implements bson.Marshaler, it encodes a snapshot of all records.
func (r *Registry) MarshalBSON() ([]byte, error) {
	doc := registryDoc{Peers: make([]recordDoc, 0, r.Len())}

	for _, rec := range r.Snapshot() {
		rd := recordDoc{
			ID:        string(rec.ID),
			FirstSeen: rec.FirstSeen,
		}

		if rec.Address.Valid {
			rd.Address = rec.Address.Val.String()
		}

		if rec.HasKey() {
			k := rec.PublicKey.Val
			rd.PublicKey = &k
		}

		doc.Peers = append(doc.Peers, rd)
	}

	return bson.Marshal(doc)
}

// UnmarshalBSON implements bson.Unmarshaler, merging every stored record into the registry through Upsert.
func (r *Registry) UnmarshalBSON(b []byte) error {
	var doc registryDoc

	if err := bson.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("could not decode registry snapshot: %w", err)
	}

	if r.records == nil {
		r.records = make(map[Identity]*Record)
		r.now = time.Now
	}

	for _, rd := range doc.Peers {
		id, err := ParseIdentity(rd.ID)
		if err != nil {
			return err
		}

		update := Record{ID: id}

		if rd.Address != "" {
			ap, err := netip.ParseAddrPort(rd.Address)
			if err != nil {
				return fmt.Errorf("could not decode address of %s: %w", id.Short(), err)
			}
			update.Address = gonull.NewNullable(ap)
		}

		if rd.PublicKey != nil {
			update.PublicKey = gonull.NewNullable(*rd.PublicKey)
		}

		r.Upsert(update)
	}

	return nil
}
