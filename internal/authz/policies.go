package authz

// defaultPolicies lets only the owner open a presentation.
// Entities passed to every evaluation:
//
//	principal  DeckSnap::User::"<user id>"
//	resource   DeckSnap::Presentation::"<presentation id>" { owner: User, isPublic: Bool }
const defaultPolicies = `
permit(
  principal,
  action == DeckSnap::Action::"open",
  resource
) when {
  resource.owner == principal
};
`
