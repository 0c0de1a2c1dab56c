package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"VaultGuard/sdk/go/vaultguard"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8080", "VaultGuard server address")
	challengeID := flag.String("challenge", "warmup", "challenge id")
	participantID := flag.String("participant", "0x1111111111111111111111111111111111111111", "participant wallet address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := vaultguard.NewClient(*baseURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if balance, err := client.Balance(ctx, *challengeID); err == nil {
		fmt.Printf("vault %s holds %s ETH\n", *challengeID, balance.ETH)
	}

	var history []vaultguard.Turn
	conversationID := ""
	input := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !input.Scan() {
			return
		}
		history = append(history, vaultguard.Turn{Role: "user", Content: input.Text()})

		stream, err := client.Chat(ctx, vaultguard.ChatRequest{
			Messages:       history,
			ChallengeID:    *challengeID,
			ConversationID: conversationID,
			ParticipantID:  *participantID,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			history = history[:len(history)-1]
			continue
		}
		conversationID = stream.ConversationID

		var reply []byte
		for fragment, err := range stream.Fragments() {
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				break
			}
			fmt.Print(fragment)
			reply = append(reply, fragment...)
		}
		fmt.Println()
		history = append(history, vaultguard.Turn{Role: "assistant", Content: string(reply)})
	}
}
