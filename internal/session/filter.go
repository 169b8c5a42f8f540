package session

import (
	"github.com/nbd-wtf/go-nostr"

	"NostraChat/internal/config"
	"NostraChat/internal/relay"
)

// ChannelFilter selects the messages posted to the channel rooted at rootID
func ChannelFilter(rootID string) nostr.Filter {
	return nostr.Filter{
		Kinds: []int{config.KindChannelMessage},
		Tags:  nostr.TagMap{"e": []string{rootID}},
	}
}

// PrivateFilter selects every private message on the relay. Recipient
// filtering happens client side in PrivateSession.Decode.
func PrivateFilter() nostr.Filter {
	return nostr.Filter{
		Kinds: []int{config.KindPrivateMessage},
	}
}

// DiscoveryFilter selects channel creation events, restricted to ids
// when any are given
func DiscoveryFilter(ids []string) nostr.Filter {
	f := nostr.Filter{
		Kinds: []int{config.KindChannelCreation},
	}
	if len(ids) > 0 {
		f.IDs = append([]string(nil), ids...)
	}
	return f
}

func subscribe(ids *relay.SubscriptionIDs, filter nostr.Filter) (string, []byte, error) {
	subID := ids.Next()
	frame, err := relay.ReqFrame(subID, filter)
	if err != nil {
		return "", nil, err
	}
	return subID, frame, nil
}
