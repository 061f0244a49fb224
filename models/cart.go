package models

type CartSnapshot struct {
	CartRef string     `json:"cart_ref"`
	Lines   []CartLine `json:"lines"`
}

type CartLine struct {
	SellerID string `json:"seller_id"`
	Amount   int64  `json:"amount"`
}

func (c *CartSnapshot) Total() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.Amount
	}
	return total
}
