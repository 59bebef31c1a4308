// Copyright 2024-2026 Aiku AI

package telegram

import (
	"testing"

	"github.com/mymmrac/telego"

	"github.com/aiku/q2tg/pkg/connector"
)

func TestMemberRole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		member telego.ChatMember
		want   connector.MemberRole
	}{
		{"owner", &telego.ChatMemberOwner{}, connector.RoleOwner},
		{"admin with delete", &telego.ChatMemberAdministrator{CanDeleteMessages: true}, connector.RoleAdmin},
		{"admin without delete", &telego.ChatMemberAdministrator{}, connector.RoleMember},
		{"member", &telego.ChatMemberMember{}, connector.RoleMember},
		{"restricted", &telego.ChatMemberRestricted{}, connector.RoleMember},
		{"left", &telego.ChatMemberLeft{}, connector.RoleUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := memberRole(tt.member); got != tt.want {
				t.Errorf("memberRole() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInputFile(t *testing.T) {
	t.Parallel()
	byURL := inputFile(connector.Media{Kind: connector.MediaPhoto, URL: "https://example.com/a.jpg"})
	if byURL.URL != "https://example.com/a.jpg" || byURL.File != nil {
		t.Errorf("URL media = %+v", byURL)
	}

	upload := inputFile(connector.Media{Kind: connector.MediaDocument, URL: "https://example.com/f", Data: []byte("data")})
	if upload.File == nil {
		t.Fatal("data media was not uploaded")
	}
	if upload.File.Name() != "document" {
		t.Errorf("upload name = %q, want document", upload.File.Name())
	}

	named := inputFile(connector.Media{Kind: connector.MediaPhoto, Data: []byte("x"), FileName: "pic.png"})
	if named.File.Name() != "pic.png" {
		t.Errorf("upload name = %q, want pic.png", named.File.Name())
	}
}
