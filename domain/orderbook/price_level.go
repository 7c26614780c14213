package orderbook

import "github.com/shopspring/decimal"

// PriceLevel is a FIFO queue of resting orders at one price.
// Orders are linked intrusively; insertion order is submission order,
// which is what gives the book its time priority.
type PriceLevel struct {
	Price      decimal.Decimal
	head       *Order
	tail       *Order
	TotalQty   decimal.Decimal
	OrderCount int
}

func (p *PriceLevel) Head() *Order { return p.head }

func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.TotalQty = p.TotalQty.Add(o.Remaining())
	p.OrderCount++
}

// reduce subtracts a filled quantity from the level total without
// unlinking the order (partial fill of the head).
func (p *PriceLevel) reduce(qty decimal.Decimal) {
	p.TotalQty = p.TotalQty.Sub(qty)
	if p.TotalQty.IsNegative() {
		p.TotalQty = decimal.Zero
	}
}

// unlink removes an order from the queue. The order's remaining
// quantity has already been accounted for via reduce on fills, so only
// the leftover is subtracted here.
func (p *PriceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil
	p.reduce(o.Remaining())
	p.OrderCount--
}
