package weibo

// Card is one node of a feed's card tree. Leaf cards of type 9 carry a post;
// group cards nest further cards. The source does not bound nesting depth.
type Card struct {
	Type  FlexID `json:"card_type"`
	Mblog *Post  `json:"mblog"`
	Group []Card `json:"card_group"`
}

// postCardType identifies leaf cards that wrap an mblog.
const postCardType = "9"

// maxCardNodes caps traversal work so a pathological payload cannot run away.
const maxCardNodes = 4096

// FlattenPostCards walks the card tree iteratively and collects every post
// leaf in document order.
func FlattenPostCards(cards []Card) []*Post {
	var posts []*Post
	stack := make([]Card, 0, len(cards))
	// Push in reverse so pops come out in document order.
	for i := len(cards) - 1; i >= 0; i-- {
		stack = append(stack, cards[i])
	}
	visited := 0
	for len(stack) > 0 && visited < maxCardNodes {
		card := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++
		if card.Type.String() == postCardType && card.Mblog != nil {
			posts = append(posts, card.Mblog)
		}
		for i := len(card.Group) - 1; i >= 0; i-- {
			stack = append(stack, card.Group[i])
		}
	}
	return posts
}
