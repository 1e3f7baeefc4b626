package subscription

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/model"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/subscription/yellowstone"
)

func init() {
	encoding.RegisterCodec(yellowstone.Codec)
}

const subscribeMethod = "/yellowstone.grpc.GeyserClient/Subscribe"

// GRPCStreamFactory opens the push-feed stream over a real gRPC
// connection, with TLS selected solely by the endpoint's URL scheme and an
// optional bearer token sent as request metadata (§4.5).
type GRPCStreamFactory struct{}

// Open dials endpoint and starts the Subscribe server stream for the given
// vote-account shard.
func (GRPCStreamFactory) Open(ctx context.Context, endpoint string, tlsConfig *tls.Config, token string, voteAccounts []string) (RawStream, error) {
	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(yellowstone.Codec.Name()),
			grpc.UseCompressor(gzipCompressorName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial push feed: %w", err)
	}

	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-token", token)
	}

	req := yellowstone.SubscribeRequest{
		Slots: map[string]yellowstone.SubscribeRequestFilterSlots{
			"all": {},
		},
		Transactions: map[string]yellowstone.SubscribeRequestFilterTransactions{
			"votes": {
				Vote:           true,
				Failed:         false,
				AccountInclude: voteAccounts,
			},
		},
		Commitment: yellowstone.CommitmentConfirmed,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	clientStream, err := conn.NewStream(streamCtx, &grpc.StreamDesc{
		StreamName:    "Subscribe",
		ServerStreams: true,
		ClientStreams: true,
	}, subscribeMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("open subscribe stream: %w", err)
	}

	if err := clientStream.SendMsg(&req); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}

	return &grpcRawStream{conn: conn, stream: clientStream, cancel: cancel}, nil
}

type grpcRawStream struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func (s *grpcRawStream) Recv() (Update, error) {
	var msg yellowstone.SubscribeUpdate
	if err := s.stream.RecvMsg(&msg); err != nil {
		return Update{}, err
	}
	return toUpdate(msg), nil
}

func (s *grpcRawStream) Close() error {
	s.cancel()
	return s.conn.Close()
}

func toUpdate(msg yellowstone.SubscribeUpdate) Update {
	switch {
	case msg.Slot != nil:
		return Update{Kind: UpdateSlot, Slot: msg.Slot.Slot}
	case msg.Transaction != nil:
		tx := msg.Transaction
		ix := make([]model.InstructionPayload, 0, len(tx.Instructions))
		for _, i := range tx.Instructions {
			ix = append(ix, model.InstructionPayload{ProgramID: i.ProgramID, Data: i.Data})
		}
		return Update{
			Kind: UpdateTransaction,
			Slot: tx.Slot,
			Event: model.VoteTransactionEvent{
				LandedSlot:        tx.Slot,
				Signature:         tx.Signature,
				IdentityPubkey:    tx.IdentityPubkey,
				VoteAccountPubkey: tx.VoteAccountPubkey,
				ReceiveTime:       time.Now().UTC(),
				Instructions:      ix,
			},
		}
	case msg.Account != nil:
		return Update{
			Kind: UpdateAccount,
			Event: model.VoteTransactionEvent{
				VoteAccountPubkey: msg.Account.Pubkey,
			},
		}
	default:
		return Update{Kind: UpdatePing}
	}
}
