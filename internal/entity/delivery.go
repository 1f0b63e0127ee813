package entity

// Delivery is the one-way delivery state of a message.
// Seen implies delivered, delivered implies sent.
type Delivery struct {
	Sent      bool
	Delivered bool
	Seen      bool
}

func (d Delivery) normalize() Delivery {
	if d.Seen {
		d.Delivered = true
	}
	if d.Delivered {
		d.Sent = true
	}
	return d
}

// Merge returns the union of both states. It never regresses a flag.
func (d Delivery) Merge(o Delivery) Delivery {
	return Delivery{
		Sent:      d.Sent || o.Sent,
		Delivered: d.Delivered || o.Delivered,
		Seen:      d.Seen || o.Seen,
	}.normalize()
}

// MarkSent, MarkDelivered and MarkSeen advance the state.
func (d Delivery) MarkSent() Delivery      { return d.Merge(Delivery{Sent: true}) }
func (d Delivery) MarkDelivered() Delivery { return d.Merge(Delivery{Delivered: true}) }
func (d Delivery) MarkSeen() Delivery      { return d.Merge(Delivery{Seen: true}) }

// String renders the state as the usual tick marks.
func (d Delivery) String() string {
	switch d = d.normalize(); {
	case d.Seen:
		return "seen"
	case d.Delivered:
		return "delivered"
	case d.Sent:
		return "sent"
	default:
		return "pending"
	}
}
