package invalidation

// Regions of the social domain.
const (
	RegionFriends        = "friends"        // key: user id
	RegionFriendRequests = "friendRequests" // key: "from-<user id>" or "to-<user id>"
	RegionUserProfile    = "userProfile"    // key: user id
	RegionChats          = "chats"          // key: user id
	RegionChatMembers    = "chatMembers"    // key: chat id
	RegionChatMessages   = "chatMessages"   // key: chat id
	RegionNotifications  = "notifications"  // key: user id
	RegionUnreadCount    = "unreadCount"    // key: user id
)

// Mutation kinds of the social domain.
const (
	FriendRequestSent     Kind = "FriendRequestSent"
	FriendRequestCanceled Kind = "FriendRequestCanceled"
	FriendRequestAccepted Kind = "FriendRequestAccepted"
	FriendRequestDeclined Kind = "FriendRequestDeclined"
	FriendRemoved         Kind = "FriendRemoved"
	ProfileUpdated        Kind = "ProfileUpdated"
	ChatCreated           Kind = "ChatCreated"
	ChatMemberAdded       Kind = "ChatMemberAdded"
	ChatMemberRemoved     Kind = "ChatMemberRemoved"
	MessagePosted         Kind = "MessagePosted"
	NotificationCreated   Kind = "NotificationCreated"
	NotificationRead      Kind = "NotificationRead"
)

// Parameters used by the default rules besides ParamActor and ParamIdentity.
const (
	ParamChatID  = "chatId"
	ParamChatIDs = "chatIds"
)

// DefaultRegions lists the regions the default rules cover.
func DefaultRegions() []string {
	return []string{
		RegionFriends,
		RegionFriendRequests,
		RegionUserProfile,
		RegionChats,
		RegionChatMembers,
		RegionChatMessages,
		RegionNotifications,
		RegionUnreadCount,
	}
}

// DefaultRules returns the rules of the social domain. For friend requests
// the actor is the user acting on the request and the affected identity is
// the other party. For chats the affected identities are the other members.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: FriendRequestSent, Targets: []Target{
			ActorTarget(RegionFriendRequests, "from-{actor}"),
			AffectedTarget(RegionFriendRequests, "to-{identity}"),
			AffectedTarget(RegionNotifications, "{identity}"),
			AffectedTarget(RegionUnreadCount, "{identity}"),
		}},
		{Kind: FriendRequestCanceled, Targets: []Target{
			ActorTarget(RegionFriendRequests, "from-{actor}"),
			AffectedTarget(RegionFriendRequests, "to-{identity}"),
		}},
		{Kind: FriendRequestAccepted, Targets: []Target{
			ActorTarget(RegionFriends, "{actor}"),
			ActorTarget(RegionFriendRequests, "to-{actor}"),
			AffectedTarget(RegionFriends, "{identity}"),
			AffectedTarget(RegionFriendRequests, "from-{identity}"),
			AffectedTarget(RegionNotifications, "{identity}"),
			AffectedTarget(RegionUnreadCount, "{identity}"),
		}},
		{Kind: FriendRequestDeclined, Targets: []Target{
			ActorTarget(RegionFriendRequests, "to-{actor}"),
			AffectedTarget(RegionFriendRequests, "from-{identity}"),
		}},
		{Kind: FriendRemoved, Targets: []Target{
			ActorTarget(RegionFriends, "{actor}"),
			AffectedTarget(RegionFriends, "{identity}"),
		}},
		// Friend lists and chat member lists embed profile summaries.
		{Kind: ProfileUpdated, Targets: []Target{
			ActorTarget(RegionUserProfile, "{actor}"),
			ActorTarget(RegionChatMembers, "{chatIds}"),
			AffectedTarget(RegionFriends, "{identity}"),
		}},
		{Kind: ChatCreated, Targets: []Target{
			ActorTarget(RegionChats, "{actor}"),
			AffectedTarget(RegionChats, "{identity}"),
		}},
		// Chat lists embed member ids, so the actor's own list changes too,
		// including when the actor removes themselves.
		{Kind: ChatMemberAdded, Targets: []Target{
			ActorTarget(RegionChatMembers, "{chatId}"),
			ActorTarget(RegionChats, "{actor}"),
			AffectedTarget(RegionChats, "{identity}"),
		}},
		{Kind: ChatMemberRemoved, Targets: []Target{
			ActorTarget(RegionChatMembers, "{chatId}"),
			ActorTarget(RegionChats, "{actor}"),
			AffectedTarget(RegionChats, "{identity}"),
		}},
		{Kind: MessagePosted, Targets: []Target{
			ActorTarget(RegionChatMessages, "{chatId}"),
			ActorTarget(RegionChats, "{actor}"),
			AffectedTarget(RegionChats, "{identity}"),
			AffectedTarget(RegionUnreadCount, "{identity}"),
		}},
		{Kind: NotificationCreated, Targets: []Target{
			AffectedTarget(RegionNotifications, "{identity}"),
			AffectedTarget(RegionUnreadCount, "{identity}"),
		}},
		{Kind: NotificationRead, Targets: []Target{
			ActorTarget(RegionNotifications, "{actor}"),
			ActorTarget(RegionUnreadCount, "{actor}"),
		}},
	}
}

// DefaultMap returns a Map of DefaultRules.
func DefaultMap() *Map {
	return MustMap(DefaultRules()...)
}
