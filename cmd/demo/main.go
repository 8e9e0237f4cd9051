package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/config"
	"github.com/SharefulNetworks/shareful-gsls/dht"
	"github.com/SharefulNetworks/shareful-gsls/envelope"
	"github.com/SharefulNetworks/shareful-gsls/identity"
	"github.com/SharefulNetworks/shareful-gsls/record"
	"github.com/SharefulNetworks/shareful-gsls/registry"
)

func main() {

	//setup config.
	cfg := config.DefaultConfig()
	cfg.UseProtobuf = true
	cfg.RequestTimeout = 1000 * time.Millisecond
	cfg.OperationTimeout = 5 * time.Second

	//every node vets the replicas it is asked to hold.
	verifier, err := registry.NewVerifier(cfg.VerificationCacheSize)
	if err != nil {
		panic(err)
	}

	//create three nodes
	var nodes []*dht.Node
	for i := 0; i < 3; i++ {
		n, err := dht.NewNode(dht.NodeOptions{Config: cfg, ListenAddr: "127.0.0.1:0", Validator: verifier})
		if err != nil {
			panic(err)
		}
		defer n.Close()
		nodes = append(nodes, n)
	}

	//bootstrap nodes 2 and 3 via node 1.
	for _, n := range nodes[1:] {
		if err := n.Bootstrap(nodes[0].Addr()); err != nil {
			fmt.Println("Error occurred whilst bootstrapping via", nodes[0].Addr(), ":", err)
		}
	}

	//each node gets its own record store.
	var stores []*registry.Service
	for _, n := range nodes {
		s, err := registry.New(registry.Options{Overlay: n, Verifier: verifier})
		if err != nil {
			panic(err)
		}
		stores = append(stores, s)
	}

	//1)CREATE A SELF CERTIFYING IDENTITY AND PUBLISH ITS RECORD VIA NODE 1,
	//  THEN RETRIEVE IT VIA NODE 3.
	_, key, _ := ed25519.GenerateKey(rand.Reader)
	pub, _ := identity.EncodePublicKey(key.Public())
	saltBytes := make([]byte, 12)
	_, _ = rand.Read(saltBytes)
	salt := base64.StdEncoding.EncodeToString(saltBytes)
	gid := identity.DeriveGID(pub, salt)

	rec := &record.SocialRecord{
		Type:              "user",
		GlobalID:          gid,
		PlatformGID:       "demo",
		DisplayName:       "Alice",
		ProfileLocation:   "https://example.org/alice",
		PersonalPublicKey: pub,
		AccountPublicKey:  pub,
		Salt:              salt,
		Datetime:          time.Now().UTC().Format(time.RFC3339),
		Active:            1,
	}
	e1, err := envelope.Sign(rec, key)
	if err != nil {
		panic(err)
	}
	if err := stores[0].Create(gid, e1); err != nil {
		fmt.Println("Error occurred whilst Node 1 was trying to create the record:", err)
	}
	if text, err := stores[2].Lookup(gid); err == nil {
		fmt.Println("Node 3 found record created via Node 1, matches:", text == e1)
	} else {
		fmt.Println("Error occurred whilst Node 3 tried to find the record:", err)
	}

	//2)UPDATE THE RECORD VIA NODE 2 AND CONFIRM EVERY NODE SEES THE NEW VERSION.
	rec.DisplayName = "Alice Liddell"
	rec.Datetime = time.Now().Add(time.Second).UTC().Format(time.RFC3339)
	e2, err := envelope.Sign(rec, key)
	if err != nil {
		panic(err)
	}
	if err := stores[1].Update(gid, e2); err != nil {
		fmt.Println("Error occurred whilst Node 2 was trying to update the record:", err)
	}
	for i, s := range stores {
		text, err := s.Lookup(gid)
		fmt.Printf("Node %d sees the updated record: %v (err: %v)\n", i+1, text == e2, err)
	}

	//3)A FORGED UPDATE SIGNED WITH ANOTHER KEY IS REFUSED.
	_, mallory, _ := ed25519.GenerateKey(rand.Reader)
	forged, _ := envelope.Sign(rec, mallory)
	fmt.Println("Forged update refused:", stores[2].Update(gid, forged))

	//4)NODE STATUS.
	for i, s := range stores {
		fmt.Printf("Node %d status: %+v\n", i+1, s.Status())
	}
}
